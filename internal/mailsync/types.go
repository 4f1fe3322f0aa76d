package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MailboxName is a provider-specific mailbox path, hierarchy separator included.
// Names are compared exactly.
type MailboxName = string

var (
	ErrCatalogUnavailable = errors.New("mailbox catalog unavailable")
	ErrMissingMessageID   = errors.New("message has no Message-ID")
	ErrMissingBody        = errors.New("message has no body")
	ErrQuery              = errors.New("destination query failed")
	ErrAppend             = errors.New("append failed")
	ErrSelect             = errors.New("select failed")
	ErrFetch              = errors.New("fetch failed")
)

// Envelope holds the envelope fields the engine cares about.
type Envelope struct {
	MessageID string
}

// FetchedMessage is one message returned by Session.Fetch.
type FetchedMessage struct {
	SeqNum       uint32
	Envelope     *Envelope
	Body         []byte
	Flags        []string
	InternalDate time.Time
}

// Session is an authenticated, stateful connection to one mail server.
// Implementations are not safe for concurrent use.
type Session interface {
	// List enumerates mailboxes using selector as the reference argument and
	// wildcard as the mailbox pattern.
	List(ctx context.Context, selector, wildcard string) ([]MailboxName, error)
	// Select makes mailbox the active context and returns its message count.
	Select(ctx context.Context, mailbox MailboxName) (uint32, error)
	// Fetch returns envelope, flags, internal date and full body for seqRange
	// in the currently selected mailbox.
	Fetch(ctx context.Context, seqRange string) ([]FetchedMessage, error)
	// SearchHeader returns the sequence numbers of messages in the selected
	// mailbox whose header field contains value.
	SearchHeader(ctx context.Context, field, value string) ([]uint32, error)
	Append(ctx context.Context, mailbox MailboxName, flags []string, date time.Time, body []byte) error
	Logout() error
}

// SessionPair is the source/destination sessions owned by one worker.
type SessionPair struct {
	Src Session
	Dst Session
}

// Status describes how far a mailbox got during a run.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusNotAttempted Status = "not-attempted"
)

// MessageError records why one message of a mailbox was counted as failed.
type MessageError struct {
	Mailbox   MailboxName
	SeqNum    uint32
	MessageID string // empty when the message has none
	Err       error
}

func (e MessageError) Error() string {
	id := e.MessageID
	if id == "" {
		id = "(no Message-ID)"
	}
	return fmt.Sprintf("%s #%d %s: %v", e.Mailbox, e.SeqNum, id, e.Err)
}

func (e MessageError) Unwrap() error { return e.Err }

// Result is the outcome of syncing one mailbox. Err is set when the mailbox
// itself could not be processed; MessageErrs holds one entry per Failed
// message.
type Result struct {
	Mailbox         MailboxName
	Status          Status
	Total           uint
	Appended        uint
	SkippedExisting uint
	Failed          uint
	NotAttempted    uint
	Err             error
	MessageErrs     []MessageError
	Duration        time.Duration
}

// Accounted reports whether every message is covered by exactly one counter.
func (r Result) Accounted() bool {
	return r.Appended+r.SkippedExisting+r.Failed+r.NotAttempted == r.Total
}

// RunSummary lists results in the order mailboxes were supplied.
type RunSummary struct {
	RunID   string
	Results []Result
}

// Totals sums the counters of every mailbox.
func (s RunSummary) Totals() Result {
	var t Result
	for _, r := range s.Results {
		t.Total += r.Total
		t.Appended += r.Appended
		t.SkippedExisting += r.SkippedExisting
		t.Failed += r.Failed
		t.NotAttempted += r.NotAttempted
	}
	return t
}

// Err joins the mailbox-level errors of the run, or returns nil.
func (s RunSummary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
