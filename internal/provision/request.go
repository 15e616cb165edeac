package provision

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// MaxNameLength is the longest accepted store display name.
const MaxNameLength = 64

// ErrInvalidRequest is wrapped by every ValidationError.
var ErrInvalidRequest = errors.New("invalid request")

// CreateRequest is the payload for creating a store.
type CreateRequest struct {
	Name string `json:"name" validate:"max=64"`
	Type string `json:"type" validate:"required"`
}

// ValidationError lists the request fields that failed validation, keyed by
// their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return fmt.Sprintf("invalid request: %s", strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// newValidator returns a validator that reports fields by their JSON names.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalize trims surrounding whitespace from every field.
func (r CreateRequest) normalize() CreateRequest {
	return CreateRequest{
		Name: strings.TrimSpace(r.Name),
		Type: strings.TrimSpace(r.Type),
	}
}

func validateRequest(v *validatorv10.Validate, r CreateRequest) error {
	err := v.Struct(r)
	if err == nil {
		return nil
	}

	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate request: %w", err)
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "is required"
		case "max":
			fields[fe.Field()] = "must be at most " + fe.Param() + " characters"
		default:
			fields[fe.Field()] = "failed " + fe.Tag()
		}
	}
	return &ValidationError{Fields: fields}
}
