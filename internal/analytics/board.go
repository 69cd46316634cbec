package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
	"github.com/training-insights/dashboard/internal/projector"
	"github.com/training-insights/dashboard/internal/query"
	"github.com/training-insights/dashboard/internal/shared"
)

// ErrorPrefix introduces every fetch failure shown on the dashboard.
const ErrorPrefix = "Failed to fetch training data: "

const maxSupersededWaits = 3

// CredentialClearer forgets a session's credential after the API rejected it.
type CredentialClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// BoardConfig is shared by every board in a Boards registry.
type BoardConfig struct {
	Fetch    query.FetchFunc
	Policy   query.RetryPolicy
	Sleep    func(context.Context, time.Duration) error
	Recorder query.Recorder
	Tokens   CredentialClearer
	Logger   *slog.Logger
}

// Board is one session's dashboard: its query orchestrator plus the state the success and
// error callbacks maintain.
type Board struct {
	id     string
	orch   *query.Orchestrator
	logger *slog.Logger
	memo   projector.Memo

	mu          sync.Mutex
	catalog     []string
	errMessage  string
	authExpired bool
	lastSeen    time.Time
}

func newBoard(id string, cfg BoardConfig, enabled bool, now time.Time) *Board {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Board{
		id:       id,
		logger:   logger.With(slog.String("board", shortID(id))),
		catalog:  projector.ToDepartmentCatalog(nil, nil),
		lastSeen: now,
	}
	fetch := func(ctx context.Context, key filters.Options) (*insightsapi.Payload, error) {
		return cfg.Fetch(shared.ContextWithSessionID(ctx, id), key)
	}
	opts := []query.Option{
		query.WithLogger(b.logger),
		query.WithEnabled(enabled),
		query.OnSuccess(b.handleSuccess),
		query.OnError(b.handleError),
		query.OnAuthExpired(func(filters.Options) { b.handleAuthExpired(cfg.Tokens) }),
	}
	if cfg.Policy != (query.RetryPolicy{}) {
		opts = append(opts, query.WithRetryPolicy(cfg.Policy))
	}
	if cfg.Sleep != nil {
		opts = append(opts, query.WithSleep(cfg.Sleep))
	}
	if cfg.Recorder != nil {
		opts = append(opts, query.WithRecorder(cfg.Recorder))
	}
	b.orch = query.New(fetch, opts...)
	return b
}

func (b *Board) handleSuccess(_ filters.Options, payload *insightsapi.Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalog = projector.ToDepartmentCatalog(payload, b.catalog)
	b.errMessage = ""
}

func (b *Board) handleError(key filters.Options, err error, message string) {
	b.mu.Lock()
	b.errMessage = ErrorPrefix + message
	b.mu.Unlock()
	b.logger.Error("insights fetch failed", slog.String("filter", key.Summary()), slog.String("kind", insightsapi.KindOf(err).String()), slog.Any("error", err))
}

func (b *Board) handleAuthExpired(tokens CredentialClearer) {
	b.mu.Lock()
	b.authExpired = true
	b.mu.Unlock()
	if tokens == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tokens.Clear(ctx, b.id); err != nil && !errors.Is(err, shared.ErrSessionMissing) {
		b.logger.Warn("clear expired token", slog.Any("error", err))
	}
}

// Show makes key the applied filter and waits for its fetch cycle to settle. When another
// request moves the board to a different filter in the meantime, key is re-applied a few
// times before giving up with query.ErrSuperseded.
func (b *Board) Show(ctx context.Context, key filters.Options) (query.Snapshot, error) {
	var (
		snap query.Snapshot
		err  error
	)
	for i := 0; i < maxSupersededWaits; i++ {
		b.orch.SetFilter(key)
		snap, err = b.orch.Wait(ctx, key)
		if !errors.Is(err, query.ErrSuperseded) {
			return snap, err
		}
	}
	return snap, err
}

// Retry re-runs the fetch for the current filter with a fresh retry budget.
func (b *Board) Retry() {
	b.mu.Lock()
	b.errMessage = ""
	b.mu.Unlock()
	b.orch.Refetch()
}

// Snapshot returns the orchestrator state.
func (b *Board) Snapshot() query.Snapshot {
	return b.orch.Snapshot()
}

// Views projects the payload held by snap.
func (b *Board) Views(snap query.Snapshot) projector.Views {
	return b.memo.Views(snap.Data, snap.DataKey)
}

// Catalog returns the departments seen so far, "All" first.
func (b *Board) Catalog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.catalog...)
}

// MergeCatalog folds externally known departments into the catalog.
func (b *Board) MergeCatalog(names []string) {
	if len(names) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalog = projector.ToDepartmentCatalog(nil, append(b.catalog, names...))
}

// ErrorMessage is the banner text of the last failed fetch, empty after a success.
func (b *Board) ErrorMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errMessage
}

// TakeAuthExpired reports and resets the expired-credential flag.
func (b *Board) TakeAuthExpired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expired := b.authExpired
	b.authExpired = false
	return expired
}

func (b *Board) touch(now time.Time) {
	b.mu.Lock()
	b.lastSeen = now
	b.mu.Unlock()
}

func (b *Board) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen
}

// Boards holds one Board per session and evicts boards idle for longer than the TTL.
type Boards struct {
	cfg     BoardConfig
	idleTTL time.Duration
	now     func() time.Time
	onCount func(int)

	mu     sync.Mutex
	boards map[string]*Board
	ready  bool
	closed bool
}

// BoardsOption customises a Boards registry.
type BoardsOption func(*Boards)

// WithIdleTTL sets how long an unused board is kept.
func WithIdleTTL(ttl time.Duration) BoardsOption {
	return func(b *Boards) {
		if ttl > 0 {
			b.idleTTL = ttl
		}
	}
}

// WithBoardClock overrides the clock used for idle tracking.
func WithBoardClock(fn func() time.Time) BoardsOption {
	return func(b *Boards) {
		if fn != nil {
			b.now = fn
		}
	}
}

// WithBoardCount reports the number of live boards after every change.
func WithBoardCount(fn func(int)) BoardsOption {
	return func(b *Boards) { b.onCount = fn }
}

// StartReady creates boards with fetching enabled immediately.
func StartReady() BoardsOption {
	return func(b *Boards) { b.ready = true }
}

// NewBoards builds an empty registry. Boards fetch only after SetReady unless StartReady is
// given.
func NewBoards(cfg BoardConfig, opts ...BoardsOption) *Boards {
	b := &Boards{
		cfg:     cfg,
		idleTTL: 30 * time.Minute,
		now:     time.Now,
		boards:  make(map[string]*Board),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns the board for sessionID, creating it on first use.
func (b *Boards) Get(sessionID string) *Board {
	now := b.now()
	b.mu.Lock()
	board, ok := b.boards[sessionID]
	if !ok {
		board = newBoard(sessionID, b.cfg, b.ready && !b.closed, now)
		b.boards[sessionID] = board
	}
	count := len(b.boards)
	b.mu.Unlock()

	board.touch(now)
	if !ok {
		b.report(count)
	}
	return board
}

// SetReady ends the startup phase and enables every board.
func (b *Boards) SetReady() {
	b.mu.Lock()
	if b.ready || b.closed {
		b.mu.Unlock()
		return
	}
	b.ready = true
	boards := b.snapshot()
	b.mu.Unlock()
	for _, board := range boards {
		board.orch.SetEnabled(true)
	}
}

// Ready reports whether the startup phase is over.
func (b *Boards) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Drop closes and removes the board for sessionID.
func (b *Boards) Drop(sessionID string) {
	b.mu.Lock()
	board, ok := b.boards[sessionID]
	delete(b.boards, sessionID)
	count := len(b.boards)
	b.mu.Unlock()
	if ok {
		board.orch.Close()
		b.report(count)
	}
}

// Sweep evicts boards idle for longer than the TTL and returns how many were removed.
func (b *Boards) Sweep() int {
	cutoff := b.now().Add(-b.idleTTL)
	b.mu.Lock()
	var idle []*Board
	for id, board := range b.boards {
		if board.idleSince().Before(cutoff) {
			idle = append(idle, board)
			delete(b.boards, id)
		}
	}
	count := len(b.boards)
	b.mu.Unlock()
	for _, board := range idle {
		board.orch.Close()
	}
	if len(idle) > 0 {
		b.report(count)
	}
	return len(idle)
}

// Run sweeps idle boards every interval until ctx is done.
func (b *Boards) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep()
		}
	}
}

// Len returns the number of live boards.
func (b *Boards) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.boards)
}

// Close stops every board.
func (b *Boards) Close() {
	b.mu.Lock()
	b.closed = true
	boards := b.snapshot()
	b.boards = make(map[string]*Board)
	b.mu.Unlock()
	for _, board := range boards {
		board.orch.Close()
	}
	b.report(0)
}

func (b *Boards) snapshot() []*Board {
	out := make([]*Board, 0, len(b.boards))
	ids := make([]string, 0, len(b.boards))
	for id := range b.boards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, b.boards[id])
	}
	return out
}

func (b *Boards) report(count int) {
	if b.onCount != nil {
		b.onCount(count)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
