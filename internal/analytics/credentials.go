package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/training-insights/dashboard/internal/insightsapi"
)

// AnonymousPartition holds payloads loaded without a bearer token.
const AnonymousPartition = "anon"

// CredentialPartition maps a bearer token to the cache partition its payloads live in. Only
// sessions presenting the same token share cached payloads and in-flight loads.
func CredentialPartition(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return AnonymousPartition
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// ResolvePartition resolves the token a load from ctx would send.
func ResolvePartition(ctx context.Context, creds insightsapi.TokenProvider) (string, error) {
	if creds == nil {
		return AnonymousPartition, nil
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return "", err
	}
	return CredentialPartition(token), nil
}
