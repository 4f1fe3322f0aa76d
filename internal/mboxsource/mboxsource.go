// Package mboxsource exposes a local mbox file as a read-only mail session so
// an mbox export can be migrated like any IMAP mailbox.
package mboxsource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/pepperpark/mailsync/internal/mailsync"
)

// ErrReadOnly is returned by operations that would modify the mbox.
var ErrReadOnly = errors.New("mbox source is read-only")

// DefaultMailbox is the name the mbox is exposed under when none is set.
const DefaultMailbox = "INBOX"

// Session serves the messages of one mbox file as a single mailbox.
type Session struct {
	path     string
	mailbox  string
	msgs     []mailsync.FetchedMessage
	loaded   bool
	selected bool
}

var _ mailsync.Session = (*Session)(nil)

// Open checks that path is readable and returns a session exposing it as
// mailbox. Messages are parsed on the first Select.
func Open(path, mailbox string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	f.Close()
	if mailbox == "" {
		mailbox = DefaultMailbox
	}
	return &Session{path: path, mailbox: mailbox}, nil
}

// List always returns the single exposed mailbox.
func (s *Session) List(ctx context.Context, selector, wildcard string) ([]string, error) {
	return []string{s.mailbox}, ctx.Err()
}

func (s *Session) Select(ctx context.Context, mailbox string) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if mailbox != s.mailbox {
		return 0, fmt.Errorf("no mailbox %q in mbox source", mailbox)
	}
	if !s.loaded {
		msgs, err := readMessages(s.path)
		if err != nil {
			return 0, err
		}
		s.msgs, s.loaded = msgs, true
	}
	s.selected = true
	return uint32(len(s.msgs)), nil
}

func (s *Session) Fetch(ctx context.Context, seqRange string) ([]mailsync.FetchedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.selected {
		return nil, errors.New("no mailbox selected")
	}
	seq, err := imap.ParseSeqSet(seqRange)
	if err != nil {
		return nil, fmt.Errorf("parse sequence set %q: %w", seqRange, err)
	}
	var out []mailsync.FetchedMessage
	for i, m := range s.msgs {
		if seq.Contains(uint32(i + 1)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Session) SearchHeader(ctx context.Context, field, value string) ([]uint32, error) {
	return nil, ErrReadOnly
}

func (s *Session) Append(ctx context.Context, mailbox string, flags []string, date time.Time, body []byte) error {
	return ErrReadOnly
}

func (s *Session) Logout() error {
	s.msgs, s.loaded, s.selected = nil, false, false
	return nil
}

func readMessages(path string) ([]mailsync.FetchedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	var msgs []mailsync.FetchedMessage
	r := mbox.NewReader(f)
	for {
		mr, err := r.NextMessage()
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read mbox: %w", err)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return nil, fmt.Errorf("read message %d: %w", len(msgs)+1, err)
		}
		msgs = append(msgs, parseMessage(uint32(len(msgs)+1), raw))
	}
}

// parseMessage builds a fetched message from raw RFC 5322 bytes. A header
// that cannot be parsed yields a message without envelope, which the engine
// reports as a failure.
func parseMessage(seq uint32, raw []byte) mailsync.FetchedMessage {
	m := mailsync.FetchedMessage{SeqNum: seq, Body: raw}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return m
	}
	m.Envelope = &mailsync.Envelope{MessageID: strings.TrimSpace(h.Get("Message-Id"))}
	m.Flags = statusFlags(h.Get("Status"), h.Get("X-Status"))
	mh := mail.Header{Header: message.Header{Header: h}}
	if date, err := mh.Date(); err == nil {
		m.InternalDate = date
	}
	return m
}

// statusFlags maps the mbox Status and X-Status headers to IMAP flags.
func statusFlags(status, xstatus string) []string {
	var flags []string
	if strings.ContainsRune(status, 'R') {
		flags = append(flags, imap.SeenFlag)
	}
	for _, c := range xstatus {
		switch c {
		case 'A':
			flags = append(flags, imap.AnsweredFlag)
		case 'F':
			flags = append(flags, imap.FlaggedFlag)
		case 'D':
			flags = append(flags, imap.DeletedFlag)
		case 'T':
			flags = append(flags, imap.DraftFlag)
		}
	}
	return flags
}
