package mailsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Concurrency is the number of mailboxes synced at once. It is capped by
	// the number of session pairs handed to RunPool.
	Concurrency int
	RunID       string
	Logger      *slog.Logger
	EventBuffer int
}

// Engine copies missing messages from source mailboxes to the destination
// mailboxes of the same name. An Engine runs once; its Events channel is
// closed when the run returns.
type Engine struct {
	opts    Options
	log     *slog.Logger
	events  chan Event
	started atomic.Bool
}

type outcome int

const (
	outcomeAppended outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeInterrupted
)

func NewEngine(opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 128
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.RunID != "" {
		logger = logger.With("run", opts.RunID)
	}
	return &Engine{opts: opts, log: logger, events: make(chan Event, opts.EventBuffer)}
}

// Events returns a read-only channel of progress events.
func (e *Engine) Events() <-chan Event { return e.events }

// Run syncs mailboxes one after another over a single session pair.
func (e *Engine) Run(ctx context.Context, src, dst Session, mailboxes []MailboxName) (RunSummary, error) {
	return e.RunPool(ctx, []SessionPair{{Src: src, Dst: dst}}, mailboxes)
}

// RunPool syncs mailboxes with one worker per session pair, up to
// Options.Concurrency workers. Each worker uses only its own pair. Results
// keep the order of mailboxes. The returned error is non-nil only when the
// run itself could not complete, e.g. on cancellation; mailbox and message
// failures are reported in the summary.
func (e *Engine) RunPool(ctx context.Context, pairs []SessionPair, mailboxes []MailboxName) (RunSummary, error) {
	if !e.started.CompareAndSwap(false, true) {
		return RunSummary{}, errors.New("engine already ran")
	}
	defer close(e.events)
	if len(pairs) == 0 {
		return RunSummary{}, errors.New("no session pair")
	}

	summary := RunSummary{RunID: e.opts.RunID, Results: make([]Result, len(mailboxes))}
	for i, name := range mailboxes {
		summary.Results[i] = Result{Mailbox: name, Status: StatusNotAttempted}
	}

	workers := min(e.opts.Concurrency, len(pairs), len(mailboxes))
	e.log.Info("sync started", "mailboxes", len(mailboxes), "workers", workers)

	jobs := make(chan int)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		pair := pairs[w]
		g.Go(func() error {
			for i := range jobs {
				summary.Results[i] = e.syncMailbox(ctx, pair, mailboxes[i])
			}
			return nil
		})
	}
feed:
	for i := range mailboxes {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	_ = g.Wait()

	t := summary.Totals()
	e.log.Info("sync finished", "total", t.Total, "appended", t.Appended, "skipped", t.SkippedExisting, "failed", t.Failed, "not_attempted", t.NotAttempted)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("sync interrupted: %w", err)
	}
	return summary, nil
}

func (e *Engine) syncMailbox(ctx context.Context, pair SessionPair, name MailboxName) (res Result) {
	res = Result{Mailbox: name, Status: StatusNotAttempted}
	if ctx.Err() != nil {
		return res
	}
	start := time.Now()
	log := e.log.With("mailbox", name)
	e.emit(Event{Type: EventMailboxStart, Mailbox: name})
	defer func() {
		res.Duration = time.Since(start)
		r := res
		e.emit(Event{Type: EventMailboxDone, Mailbox: name, Total: int(r.Total), Done: int(r.Total - r.NotAttempted), Result: &r})
	}()

	count, err := pair.Src.Select(ctx, name)
	if err != nil {
		log.Error("select source mailbox", "error", err)
		res.Status = StatusFailed
		res.Err = fmt.Errorf("%s: %w: %w", name, ErrSelect, err)
		return res
	}
	res.Total = uint(count)
	if count == 0 {
		log.Debug("mailbox is empty")
		res.Status = StatusCompleted
		return res
	}

	log.Info("syncing mailbox", "messages", count)
	msgs, err := pair.Src.Fetch(ctx, SeqRange(count))
	if err != nil {
		log.Error("fetch source messages", "error", err)
		res.Status = StatusFailed
		res.NotAttempted = res.Total
		res.Err = fmt.Errorf("%s: %w: %w", name, ErrFetch, err)
		return res
	}
	if len(msgs) != int(count) {
		log.Warn("fetch returned a different number of messages", "expected", count, "got", len(msgs))
		res.Total = uint(len(msgs))
	}
	e.emit(Event{Type: EventMailboxProgress, Mailbox: name, Total: len(msgs)})

	for i, msg := range msgs {
		if ctx.Err() != nil {
			return e.cancelled(res, i, log)
		}
		out, merr := e.syncMessage(ctx, pair.Dst, name, msg, log)
		switch out {
		case outcomeAppended:
			res.Appended++
		case outcomeSkipped:
			res.SkippedExisting++
		case outcomeInterrupted:
			return e.cancelled(res, i, log)
		default:
			res.Failed++
			res.MessageErrs = append(res.MessageErrs, merr)
		}
		e.emit(Event{Type: EventMailboxProgress, Mailbox: name, Total: len(msgs), Done: i + 1})
	}

	res.Status = StatusCompleted
	log.Info("mailbox synced", "appended", res.Appended, "skipped", res.SkippedExisting, "failed", res.Failed, "total", res.Total)
	return res
}

// cancelled finalizes res after a cancellation seen before message index i
// was done; i and every later message count as not attempted.
func (e *Engine) cancelled(res Result, i int, log *slog.Logger) Result {
	res.Status = StatusCancelled
	res.NotAttempted = res.Total - uint(i)
	log.Warn("mailbox sync cancelled", "not_attempted", res.NotAttempted)
	return res
}

// syncMessage copies msg unless the destination already has it. The returned
// MessageError is only meaningful for outcomeFailed.
func (e *Engine) syncMessage(ctx context.Context, dst Session, mailbox MailboxName, msg FetchedMessage, log *slog.Logger) (outcome, MessageError) {
	merr := MessageError{Mailbox: mailbox, SeqNum: msg.SeqNum}
	fail := func(err error) (outcome, MessageError) {
		if interrupted(ctx, err) {
			return outcomeInterrupted, MessageError{}
		}
		merr.Err = err
		return outcomeFailed, merr
	}

	id, err := messageID(msg)
	if err != nil {
		log.Error("cannot sync message", "seq", msg.SeqNum, "error", err)
		return fail(err)
	}
	merr.MessageID = id
	log = log.With("message_id", id)

	lookup, err := Exists(ctx, dst, mailbox, id)
	if err != nil {
		log.Error("dedup lookup", "error", err)
		return fail(err)
	}
	if lookup.Found {
		log.Debug("message already exists", "slot", lookup.Slot)
		return outcomeSkipped, merr
	}

	if len(msg.Body) == 0 {
		log.Error("cannot append message", "error", ErrMissingBody)
		return fail(ErrMissingBody)
	}
	if err := dst.Append(ctx, mailbox, appendFlags(msg.Flags), msg.InternalDate, msg.Body); err != nil {
		err = fmt.Errorf("%w: %w", ErrAppend, err)
		log.Error("append message", "error", err)
		return fail(err)
	}
	log.Info("appended message")
	return outcomeAppended, merr
}

// interrupted reports whether err comes from ctx being cancelled while the
// message was in flight.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		// drop if slow consumer
	}
}

// SeqRange returns the sequence set covering messages 1 through count.
// A single message is addressed by its index alone.
func SeqRange(count uint32) string {
	switch count {
	case 0:
		return ""
	case 1:
		return "1"
	}
	return "1:" + strconv.FormatUint(uint64(count), 10)
}

func messageID(msg FetchedMessage) (string, error) {
	if msg.Envelope == nil {
		return "", fmt.Errorf("%w: no envelope", ErrMissingMessageID)
	}
	id := strings.TrimSpace(msg.Envelope.MessageID)
	if id == "" {
		return "", ErrMissingMessageID
	}
	return id, nil
}

// appendFlags drops \Recent, which clients may not set.
func appendFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if strings.EqualFold(f, `\Recent`) {
			continue
		}
		out = append(out, f)
	}
	return out
}
