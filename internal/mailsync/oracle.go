package mailsync

import (
	"context"
	"fmt"
)

// MessageIDHeader is the header field searched on the destination.
const MessageIDHeader = "Message-ID"

// Lookup is the answer of the dedup oracle.
type Lookup struct {
	Found bool
	// Slot is the first matching destination sequence number when Found.
	Slot uint32
}

// Exists reports whether a message with the given Message-ID is already in
// mailbox on dst. The identifier is searched verbatim. When several
// destination copies match, the first one reported wins. Any select or
// search failure is returned wrapped in ErrQuery so callers never append
// when existence is unknown.
func Exists(ctx context.Context, dst Session, mailbox MailboxName, messageID string) (Lookup, error) {
	if _, err := dst.Select(ctx, mailbox); err != nil {
		return Lookup{}, fmt.Errorf("%w: select %s: %w", ErrQuery, mailbox, err)
	}
	seqs, err := dst.SearchHeader(ctx, MessageIDHeader, messageID)
	if err != nil {
		return Lookup{}, fmt.Errorf("%w: search %s: %w", ErrQuery, messageID, err)
	}
	if len(seqs) == 0 {
		return Lookup{}, nil
	}
	return Lookup{Found: true, Slot: seqs[0]}, nil
}
