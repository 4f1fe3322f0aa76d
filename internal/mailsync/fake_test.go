package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeServer is an in-memory mail store shared by fakeSessions.
type fakeServer struct {
	mu    sync.Mutex
	order []MailboxName
	boxes map[MailboxName][]FetchedMessage
}

func newFakeServer(mailboxes ...MailboxName) *fakeServer {
	s := &fakeServer{boxes: make(map[MailboxName][]FetchedMessage)}
	for _, name := range mailboxes {
		s.order = append(s.order, name)
		s.boxes[name] = nil
	}
	return s
}

func (s *fakeServer) add(mailbox MailboxName, msgs ...FetchedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[mailbox]; !ok {
		s.order = append(s.order, mailbox)
	}
	s.boxes[mailbox] = append(s.boxes[mailbox], msgs...)
}

func (s *fakeServer) ids(mailbox MailboxName) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.boxes[mailbox] {
		if m.Envelope != nil {
			out = append(out, m.Envelope.MessageID)
		}
	}
	return out
}

type appendCall struct {
	mailbox MailboxName
	flags   []string
	date    time.Time
	body    []byte
}

// fakeSession is one connection to a fakeServer.
type fakeSession struct {
	srv      *fakeServer
	selected MailboxName

	listResult []MailboxName
	listErr    error
	selectErr  map[MailboxName]error
	fetchErr   error
	searchErr  error
	appendErr  func(body []byte) error
	onSearch   func(value string)

	listCalls   [][2]string
	fetchRanges []string
	searches    []string
	appends     []appendCall
	loggedOut   bool
}

func newFakeSession(srv *fakeServer) *fakeSession {
	return &fakeSession{srv: srv, selectErr: map[MailboxName]error{}}
}

func (f *fakeSession) List(ctx context.Context, selector, wildcard string) ([]MailboxName, error) {
	f.listCalls = append(f.listCalls, [2]string{selector, wildcard})
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.listResult != nil {
		return f.listResult, nil
	}
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	return append([]MailboxName(nil), f.srv.order...), nil
}

func (f *fakeSession) Select(ctx context.Context, mailbox MailboxName) (uint32, error) {
	if err := f.selectErr[mailbox]; err != nil {
		return 0, err
	}
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	msgs, ok := f.srv.boxes[mailbox]
	if !ok {
		return 0, fmt.Errorf("no such mailbox %q", mailbox)
	}
	f.selected = mailbox
	return uint32(len(msgs)), nil
}

func (f *fakeSession) Fetch(ctx context.Context, seqRange string) ([]FetchedMessage, error) {
	f.fetchRanges = append(f.fetchRanges, seqRange)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	msgs := f.srv.boxes[f.selected]
	out := make([]FetchedMessage, len(msgs))
	for i, m := range msgs {
		m.SeqNum = uint32(i + 1)
		out[i] = m
	}
	return out, nil
}

func (f *fakeSession) SearchHeader(ctx context.Context, field, value string) ([]uint32, error) {
	f.searches = append(f.searches, field+" "+value)
	if f.onSearch != nil {
		f.onSearch(value)
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	var seqs []uint32
	for i, m := range f.srv.boxes[f.selected] {
		if m.Envelope != nil && m.Envelope.MessageID == value {
			seqs = append(seqs, uint32(i+1))
		}
	}
	return seqs, nil
}

func (f *fakeSession) Append(ctx context.Context, mailbox MailboxName, flags []string, date time.Time, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.appendErr != nil {
		if err := f.appendErr(body); err != nil {
			return err
		}
	}
	f.appends = append(f.appends, appendCall{mailbox: mailbox, flags: flags, date: date, body: body})
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	if _, ok := f.srv.boxes[mailbox]; !ok {
		return errors.New("TRYCREATE mailbox does not exist")
	}
	f.srv.boxes[mailbox] = append(f.srv.boxes[mailbox], FetchedMessage{
		Envelope:     &Envelope{MessageID: headerMessageID(body)},
		Body:         body,
		Flags:        flags,
		InternalDate: date,
	})
	return nil
}

func (f *fakeSession) Logout() error {
	f.loggedOut = true
	return nil
}

func msg(id string) FetchedMessage {
	return FetchedMessage{
		Envelope:     &Envelope{MessageID: id},
		Body:         rawMessage(id),
		Flags:        []string{`\Seen`},
		InternalDate: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func rawMessage(id string) []byte {
	return []byte("Message-ID: " + id + "\r\nSubject: test\r\n\r\nhello\r\n")
}

func headerMessageID(body []byte) string {
	for _, line := range strings.Split(string(body), "\r\n") {
		if line == "" {
			break
		}
		if k, v, ok := strings.Cut(line, ":"); ok && strings.EqualFold(k, "Message-ID") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
