package mailsync

import (
	"context"
	"fmt"
)

// ListAll returns every mailbox visible on the session, in server order.
func ListAll(ctx context.Context, s Session) ([]MailboxName, error) {
	names, err := s.List(ctx, MatchAll, MatchAll)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	return names, nil
}

// ListFiltered asks the server for the mailboxes matching the include
// patterns and drops excluded names. Server order is preserved and
// duplicate names are reported once.
func ListFiltered(ctx context.Context, s Session, f Filter) ([]MailboxName, error) {
	names, err := s.List(ctx, f.Selector(), MatchAll)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	seen := make(map[MailboxName]struct{}, len(names))
	out := make([]MailboxName, 0, len(names))
	for _, name := range names {
		if !f.Matches(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}
