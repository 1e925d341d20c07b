package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConflict is returned by the ledger when a (source, item) pair is already recorded.
var ErrConflict = errors.New("ledger conflict: item already handled")

// FilteredError means a stage suppressed an item for the current branch
// without ending its payload lifecycle.
type FilteredError struct {
	StageName string
	ItemID    string
	Reason    string
	Details   map[string]any
}

func (e *FilteredError) Error() string {
	return fmt.Sprintf("filtered by %s: %s (item: %s)", e.StageName, e.Reason, e.ItemID)
}

func IsFiltered(err error) bool {
	var fe *FilteredError
	return errors.As(err, &fe)
}

func NewFilteredError(stageName, itemID, reason string) *FilteredError {
	return &FilteredError{
		StageName: stageName,
		ItemID:    itemID,
		Reason:    reason,
		Details:   make(map[string]any),
	}
}

func (e *FilteredError) WithDetail(key string, value any) *FilteredError {
	e.Details[key] = value
	return e
}

// ConfigError is fatal at startup.
type ConfigError struct {
	Section string
	Name    string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Section != "" {
		b.WriteString(": ")
		b.WriteString(e.Section)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func NewConfigError(section, name, reason string, args ...any) *ConfigError {
	return &ConfigError{Section: section, Name: name, Reason: fmt.Sprintf(reason, args...)}
}

// ConfigErrors collects every problem found while validating a configuration.
type ConfigErrors []*ConfigError

func (e ConfigErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ConfigErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// Err returns nil when no errors were collected.
func (e ConfigErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// AdapterError means a single candidate could not be parsed or fetched.
type AdapterError struct {
	Source string
	ItemID string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s: candidate %s: %v", e.Source, e.ItemID, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// PollError means a whole poll failed after all retries.
type PollError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("source %s: poll failed after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

type PublishError struct {
	Uploader   string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *PublishError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("publish to %s failed (%s): %v", e.Uploader, kind, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func NewRetryable(uploader string, err error) *PublishError {
	return &PublishError{Uploader: uploader, Retryable: true, Err: err}
}

func NewPermanent(uploader string, err error) *PublishError {
	return &PublishError{Uploader: uploader, Err: err}
}

func (e *PublishError) WithRetryAfter(d time.Duration) *PublishError {
	e.RetryAfter = d
	return e
}

// IsRetryable reports whether err is a retryable PublishError. Errors that are
// not PublishErrors are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
