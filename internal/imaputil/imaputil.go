package imaputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/emersion/go-imap/client"
)

// Security selects how the connection is protected.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityPlain    Security = "plain"
)

// Endpoint describes where and how to log in.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Security Security
	Insecure bool
}

func (e Endpoint) addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// DialAndLogin connects and logs into an IMAP server.
func DialAndLogin(ctx context.Context, ep Endpoint) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := ep.addr()
	tlsConfig := &tls.Config{ServerName: ep.Host, InsecureSkipVerify: ep.Insecure}
	var c *client.Client
	var err error
	switch ep.Security {
	case SecurityStartTLS:
		// Plain connection, then upgrade with STARTTLS
		c, err = client.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("starttls %s: %w", addr, err)
		}
	case SecurityPlain:
		c, err = client.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
	case SecurityTLS, "":
		c, err = client.DialTLS(addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
	default:
		return nil, fmt.Errorf("unknown security mode %q", ep.Security)
	}
	// Enable raw IMAP wire debug if requested via environment variable
	if os.Getenv("MAILSYNC_IMAP_DEBUG") == "1" {
		c.SetDebug(os.Stderr)
	}
	if err := c.Login(ep.User, ep.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login %s@%s: %w", ep.User, ep.Host, err)
	}
	return NewSession(c), nil
}
