package imaputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/pepperpark/mailsync/internal/mailsync"
)

// Session adapts a logged-in go-imap client to mailsync.Session.
type Session struct {
	c *client.Client
}

var _ mailsync.Session = (*Session)(nil)

func NewSession(c *client.Client) *Session {
	return &Session{c: c}
}

// Client exposes the underlying connection.
func (s *Session) Client() *client.Client { return s.c }

func (s *Session) List(ctx context.Context, selector, wildcard string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List(selector, wildcard, ch)
	}()
	var names []string
	for m := range ch {
		if m != nil {
			names = append(names, m.Name)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("list %q %q: %w", selector, wildcard, err)
	}
	return names, nil
}

// Select opens mailbox read-only (EXAMINE), so neither the fetch on the
// source nor the search on the destination changes mailbox state. APPEND
// does not need the mailbox selected.
func (s *Session) Select(ctx context.Context, mailbox string) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	status, err := s.c.Select(mailbox, true)
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", mailbox, err)
	}
	return status.Messages, nil
}

func (s *Session) Fetch(ctx context.Context, seqRange string) ([]mailsync.FetchedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq, err := imap.ParseSeqSet(seqRange)
	if err != nil {
		return nil, fmt.Errorf("parse sequence set %q: %w", seqRange, err)
	}
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	msgs := make(chan *imap.Message, 64)
	done := make(chan error, 1)
	go func() {
		done <- s.c.Fetch(seq, items, msgs)
	}()
	var out []mailsync.FetchedMessage
	var readErr error
	for msg := range msgs {
		if msg == nil {
			continue
		}
		fm := mailsync.FetchedMessage{
			SeqNum:       msg.SeqNum,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
		}
		if msg.Envelope != nil {
			fm.Envelope = &mailsync.Envelope{MessageID: msg.Envelope.MessageId}
		}
		if lit := msg.GetBody(section); lit != nil {
			body, err := io.ReadAll(lit)
			if err != nil && readErr == nil {
				readErr = fmt.Errorf("read body of message %d: %w", msg.SeqNum, err)
			}
			fm.Body = body
		}
		out = append(out, fm)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %s: %w", seqRange, err)
	}
	if readErr != nil {
		return nil, readErr
	}
	return out, nil
}

func (s *Session) SearchHeader(ctx context.Context, field, value string) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add(field, value)
	seqs, err := s.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search %s %s: %w", field, value, err)
	}
	return seqs, nil
}

func (s *Session) Append(ctx context.Context, mailbox string, flags []string, date time.Time, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.c.Append(mailbox, flags, date, bytes.NewBuffer(body)); err != nil {
		return fmt.Errorf("append to %s: %w", mailbox, err)
	}
	return nil
}

func (s *Session) Logout() error {
	return s.c.Logout()
}
