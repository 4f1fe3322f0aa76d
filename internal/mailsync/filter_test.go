package mailsync

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestNewFilter(t *testing.T) {
	cases := []struct {
		name         string
		include      string
		exclude      string
		wantInclude  []string
		wantSelector string
		excluded     []string
	}{
		{name: "defaults", wantInclude: []string{"*"}, wantSelector: "*"},
		{name: "blank include", include: "  ", wantInclude: []string{"*"}, wantSelector: "*"},
		{name: "trimmed", include: " Work , Personal", exclude: " Spam ,Trash", wantInclude: []string{"Work", "Personal"}, wantSelector: "Work Personal", excluded: []string{"Spam", "Trash"}},
		{name: "hierarchy kept", include: "Lists/go-nuts", wantInclude: []string{"Lists/go-nuts"}, wantSelector: "Lists/go-nuts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFilter(tc.include, tc.exclude)
			if !reflect.DeepEqual(f.Include, tc.wantInclude) {
				t.Fatalf("include = %v, want %v", f.Include, tc.wantInclude)
			}
			if got := f.Selector(); got != tc.wantSelector {
				t.Fatalf("selector = %q, want %q", got, tc.wantSelector)
			}
			if len(f.Exclude) != len(tc.excluded) {
				t.Fatalf("exclude = %v, want %v", f.Exclude, tc.excluded)
			}
			for _, name := range tc.excluded {
				if f.Matches(name) {
					t.Fatalf("%q should be excluded", name)
				}
			}
		})
	}
}

func TestFilterIsCaseSensitive(t *testing.T) {
	f := NewFilter("", "Spam")
	if f.Matches("Spam") {
		t.Fatal("Spam should be excluded")
	}
	if !f.Matches("spam") {
		t.Fatal("exclusion must be an exact match")
	}
}

func TestListFilteredExcludeWins(t *testing.T) {
	src := newFakeSession(newFakeServer())
	src.listResult = []MailboxName{"Work", "Personal"}
	f := NewFilter("Work,Personal", "Personal")

	got, err := ListFiltered(context.Background(), src, f)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []MailboxName{"Work"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if want := [][2]string{{"Work Personal", "*"}}; !reflect.DeepEqual(src.listCalls, want) {
		t.Fatalf("list calls = %v, want %v", src.listCalls, want)
	}
}

func TestListFilteredKeepsServerOrderAndDedups(t *testing.T) {
	src := newFakeSession(newFakeServer())
	src.listResult = []MailboxName{"INBOX", "Work", "Archive", "Work", "Spam"}

	got, err := ListFiltered(context.Background(), src, NewFilter("", "Spam"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []MailboxName{"INBOX", "Work", "Archive"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestListAll(t *testing.T) {
	src := newFakeSession(newFakeServer("INBOX", "Work", "Personal", "Archive"))
	got, err := ListAll(context.Background(), src)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []MailboxName{"INBOX", "Work", "Personal", "Archive"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if want := [][2]string{{"*", "*"}}; !reflect.DeepEqual(src.listCalls, want) {
		t.Fatalf("list calls = %v, want %v", src.listCalls, want)
	}
}

func TestCatalogUnavailable(t *testing.T) {
	src := newFakeSession(newFakeServer())
	src.listErr = errors.New("connection closed")

	if _, err := ListFiltered(context.Background(), src, NewFilter("", "")); !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("ListFiltered err = %v", err)
	}
	if _, err := ListAll(context.Background(), src); !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("ListAll err = %v", err)
	}
}
