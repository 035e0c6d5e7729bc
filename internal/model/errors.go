package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrNotLoaded is returned when an interaction runs before its portfolio loaded.
var ErrNotLoaded = errors.New("portfolio not loaded")

// ValidationError reports rejected input fields.
type ValidationError struct {
	Fields []string
	msg    string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// ErrorKind groups errors by how callers react to them.
type ErrorKind int

const (
	KindRemote ErrorKind = iota
	KindNotFound
	KindUnauthenticated
	KindForbidden
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	default:
		return "remote"
	}
}

// Kind classifies err. Anything unrecognised is treated as a remote failure.
func Kind(err error) ErrorKind {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrPortfolioNotFound),
		errors.Is(err, ErrCommentNotFound),
		errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrInvalidCredentials):
		return KindUnauthenticated
	case errors.Is(err, ErrNotPortfolioOwner),
		errors.Is(err, ErrNotCommentOwner):
		return KindForbidden
	case errors.Is(err, ErrNoImages),
		errors.Is(err, ErrTooManyImages),
		errors.Is(err, ErrContentRequired),
		errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrTitleRequired),
		errors.Is(err, ErrDeleteNotConfirmed),
		errors.Is(err, ErrNotLoaded),
		errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrInvalidImageType),
		errors.Is(err, ErrEmailExists):
		return KindValidation
	}
	return KindRemote
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags on s and returns a *ValidationError listing
// the fields that failed.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validation failed: %w", err)
	}
	fields := make([]string, 0, len(ve))
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Field())
		msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %s", fe.Field(), fe.Tag()))
	}
	return &ValidationError{Fields: fields, msg: strings.Join(msgs, "; ")}
}
