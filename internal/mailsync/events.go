package mailsync

// EventType enumerates emitted sync events.
type EventType string

const (
	EventMailboxStart    EventType = "mailbox_start"
	EventMailboxProgress EventType = "mailbox_progress"
	EventMailboxDone     EventType = "mailbox_done"
)

// Event carries progress about a mailbox. Done counts messages attempted so far.
type Event struct {
	Type    EventType
	Mailbox MailboxName
	Total   int
	Done    int
	Result  *Result // set on EventMailboxDone
}
