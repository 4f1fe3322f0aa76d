package credential

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const serviceName = "mailsync"

// ErrNotFound means no password could be obtained for the account.
var ErrNotFound = errors.New("no password available")

// Store is the part of a keyring the resolver needs.
type Store interface {
	Get(key string) (keyring.Item, error)
	Set(item keyring.Item) error
}

// Prompter asks the user for a secret.
type Prompter func(label string) (string, error)

// Resolver finds passwords that are missing from the configuration.
type Resolver struct {
	Store  Store
	Prompt Prompter
}

// Key is the keyring key for an account.
func Key(user, host string) string {
	return user + "@" + host
}

// OpenKeyring returns the system keyring used for mailsync credentials.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsync/credentials",
		FilePasswordFunc:         keyring.TerminalPrompt,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Resolve returns password when set, otherwise the keyring entry for
// user@host, otherwise whatever the prompter returns.
func (r Resolver) Resolve(password, user, host string) (string, error) {
	if password != "" {
		return password, nil
	}
	if r.Store != nil {
		item, err := r.Store.Get(Key(user, host))
		if err == nil && len(item.Data) > 0 {
			return string(item.Data), nil
		}
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", Key(user, host), err)
		}
	}
	if r.Prompt != nil {
		pw, err := r.Prompt(fmt.Sprintf("Password for %s: ", Key(user, host)))
		if err != nil {
			return "", err
		}
		if pw != "" {
			return pw, nil
		}
	}
	return "", fmt.Errorf("%s: %w", Key(user, host), ErrNotFound)
}

// Save stores password for user@host.
func (r Resolver) Save(user, host, password string) error {
	if r.Store == nil {
		return errors.New("no keyring available")
	}
	err := r.Store.Set(keyring.Item{
		Key:   Key(user, host),
		Label: "mailsync " + Key(user, host),
		Data:  []byte(password),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", Key(user, host), err)
	}
	return nil
}

// TerminalPrompt reads a password without echo when stdin is a terminal.
// It returns nil otherwise.
func TerminalPrompt(w io.Writer) Prompter {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(label string) (string, error) {
		fmt.Fprint(w, label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
}
