package domain

import "fmt"

// FetchError signals a transport or auth failure against an upstream feed.
// Retryable on the next poll.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FeedFormatError signals a malformed upstream response. The poll is
// skipped and logged; not retryable within the run.
type FeedFormatError struct {
	SourceID string
	Reason   string
}

func (e *FeedFormatError) Error() string {
	return fmt.Sprintf("feed %s: malformed response: %s", e.SourceID, e.Reason)
}

// ParseError signals an unsupported or malformed payload. The document is
// dropped and logged; the run continues.
type ParseError struct {
	SourceID string
	Hash     string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (payload %s): %s", e.SourceID, e.Hash, e.Reason)
}

// CommitError signals a storage failure while committing an enriched
// record. Retried with backoff; if exhausted the feed run halts without
// advancing the cursor.
type CommitError struct {
	RecordID string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.RecordID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
