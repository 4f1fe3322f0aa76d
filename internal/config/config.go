package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/pepperpark/mailsync/internal/imaputil"
)

// EnvPrefix prefixes environment overrides, e.g. MAILSYNC_SRC_PASSWORD.
const EnvPrefix = "MAILSYNC"

const DefaultPort = 993

// Endpoint holds the settings of one side of the migration.
type Endpoint struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Security string `mapstructure:"security"`
	Insecure bool   `mapstructure:"insecure"`

	// Include and Exclude are comma separated mailbox lists. Only the
	// source's are used.
	Include string `mapstructure:"include"`
	Exclude string `mapstructure:"exclude"`

	// Mbox reads messages from a local mbox file instead of a server.
	// Mailbox is the name the file is exposed under.
	Mbox    string `mapstructure:"mbox"`
	Mailbox string `mapstructure:"mailbox"`
}

// Config is the top-level configuration file.
type Config struct {
	Src Endpoint `mapstructure:"src"`
	Dst Endpoint `mapstructure:"dst"`
}

var endpointKeys = []string{"host", "port", "user", "password", "security", "insecure", "include", "exclude", "mbox", "mailbox"}

// Load reads the TOML file at path. Any key can be overridden from the
// environment, e.g. MAILSYNC_DST_PASSWORD.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("no config file given")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults double as the key list AutomaticEnv needs for Unmarshal.
	for _, side := range []string{"src", "dst"} {
		for _, k := range endpointKeys {
			v.SetDefault(side+"."+k, "")
		}
		v.SetDefault(side+".port", DefaultPort)
		v.SetDefault(side+".security", string(imaputil.SecurityTLS))
		v.SetDefault(side+".insecure", false)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that both endpoints can be connected to.
func (c *Config) Validate() error {
	if err := c.Src.validate("src", true); err != nil {
		return err
	}
	return c.Dst.validate("dst", false)
}

func (e Endpoint) validate(side string, allowMbox bool) error {
	if e.Mbox != "" {
		if !allowMbox {
			return fmt.Errorf("%s: mbox is only supported as a source", side)
		}
		return nil
	}
	if e.Host == "" {
		return fmt.Errorf("%s: host is required", side)
	}
	if e.User == "" {
		return fmt.Errorf("%s: user is required", side)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%s: invalid port %d", side, e.Port)
	}
	switch imaputil.Security(e.Security) {
	case imaputil.SecurityTLS, imaputil.SecurityStartTLS, imaputil.SecurityPlain:
	default:
		return fmt.Errorf("%s: security must be tls, starttls or plain, got %q", side, e.Security)
	}
	return nil
}

// IMAP converts the endpoint to dial settings.
func (e Endpoint) IMAP() imaputil.Endpoint {
	return imaputil.Endpoint{
		Host:     e.Host,
		Port:     e.Port,
		User:     e.User,
		Password: e.Password,
		Security: imaputil.Security(e.Security),
		Insecure: e.Insecure,
	}
}

// String identifies the endpoint without exposing the password.
func (e Endpoint) String() string {
	if e.Mbox != "" {
		return "mbox:" + e.Mbox
	}
	return fmt.Sprintf("%s@%s:%d", e.User, e.Host, e.Port)
}
