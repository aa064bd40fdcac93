package domain

import "errors"

var (
	ErrIssueNotFound     = errors.New("issue not found")
	ErrModuleNotFound    = errors.New("module not found")
	ErrCriterionNotFound = errors.New("criterion not found")
	ErrInvalidSelection  = errors.New("invalid selection")
	ErrDuplicateIssue    = errors.New("issue already exists for publication and date")
	ErrIssueFailed       = errors.New("issue assembly failed; reprocess required")
	ErrIssueSent         = errors.New("issue already sent")
	ErrMalformedResponse = errors.New("malformed generation response")
	ErrCursorConflict    = errors.New("rotation cursor changed concurrently")
	ErrLockHeld          = errors.New("lock held by another worker")
)

// IsInvariant reports whether err is a caller/invariant error that must not be retried.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrIssueNotFound) ||
		errors.Is(err, ErrModuleNotFound) ||
		errors.Is(err, ErrCriterionNotFound) ||
		errors.Is(err, ErrInvalidSelection) ||
		errors.Is(err, ErrDuplicateIssue) ||
		errors.Is(err, ErrIssueFailed) ||
		errors.Is(err, ErrIssueSent)
}
