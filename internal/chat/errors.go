package chat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by write paths that reference a conversation or
	// user that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotParticipant is returned when the caller is not a member of the
	// conversation it writes to.
	ErrNotParticipant = errors.New("not a participant of this conversation")
	// ErrTransaction marks a storage abort. Nothing was committed, so the
	// caller may retry.
	ErrTransaction = errors.New("transaction failed")
)

// ValidationError reports bad input field by field. It is always returned
// before any write happens.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// invalid returns a ValidationError for a single field.
func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// IsValidation reports whether err is a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// TxError wraps the storage error behind a failed transaction.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string { return fmt.Sprintf("%s: transaction failed: %v", e.Op, e.Err) }

func (e *TxError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransaction) match any TxError.
func (e *TxError) Is(target error) bool { return target == ErrTransaction }
