package mailsync

import "strings"

// MatchAll is the include pattern used when nothing is configured.
const MatchAll = "*"

// Filter selects mailboxes by include patterns, resolved by the server, and
// an exact-name exclude set applied afterwards.
type Filter struct {
	Include []string
	Exclude map[MailboxName]struct{}
}

// NewFilter parses comma separated include and exclude lists. An empty
// include list becomes the single pattern "*".
func NewFilter(includeCSV, excludeCSV string) Filter {
	f := Filter{
		Include: splitCSV(includeCSV),
		Exclude: make(map[MailboxName]struct{}),
	}
	if len(f.Include) == 0 {
		f.Include = []string{MatchAll}
	}
	for _, name := range splitCSV(excludeCSV) {
		f.Exclude[name] = struct{}{}
	}
	return f
}

// Selector is the server-side LIST argument built from the include patterns.
func (f Filter) Selector() string {
	if len(f.Include) == 0 {
		return MatchAll
	}
	return strings.Join(f.Include, " ")
}

// Excluded reports whether name is in the exclude set.
func (f Filter) Excluded(name MailboxName) bool {
	_, ok := f.Exclude[strings.TrimSpace(name)]
	return ok
}

// Matches reports whether a mailbox returned by the server survives the
// filter. Include matching is the server's job, so only exclusion is checked.
func (f Filter) Matches(name MailboxName) bool {
	return !f.Excluded(name)
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
