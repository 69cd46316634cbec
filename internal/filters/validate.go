package filters

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("param"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// FieldError describes a filter parameter that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("filters: invalid %s: %s", e.Field, e.Reason)
}

type filterInput struct {
	Department string `param:"department" validate:"max=128"`
	StartDate  string `param:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string `param:"endDate" validate:"omitempty,datetime=2006-01-02"`
}

// Validate checks date formats and that the range is not inverted.
func (o Options) Validate() error {
	in := filterInput{Department: o.Department, StartDate: o.DateRange.Start, EndDate: o.DateRange.End}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &FieldError{Field: verrs[0].Field(), Reason: describeTag(verrs[0].Tag())}
		}
		return err
	}
	if o.DateRange.Start != "" && o.DateRange.End != "" && o.DateRange.Start > o.DateRange.End {
		return &FieldError{Field: ParamEndDate, Reason: "before startDate"}
	}
	return nil
}

func describeTag(tag string) string {
	switch tag {
	case "datetime":
		return "expected yyyy-MM-dd"
	case "max":
		return "too long"
	default:
		return tag
	}
}
