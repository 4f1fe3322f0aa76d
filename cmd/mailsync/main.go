package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pepperpark/mailsync/internal/config"
	"github.com/pepperpark/mailsync/internal/credential"
	"github.com/pepperpark/mailsync/internal/imaputil"
	"github.com/pepperpark/mailsync/internal/mailsync"
	"github.com/pepperpark/mailsync/internal/mboxsource"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
	date    = ""
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFile    string
}

type syncOptions struct {
	concurrency int
	yes         bool
	noTUI       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "mailsync",
		Short: "Mailsync - migrate mailboxes between IMAP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			// default to help
			return cmd.Help()
		},
	}

	var showVersion bool
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&o.logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("mailsync %s", version)
			if commit != "" {
				fmt.Printf(" (%s)", commit)
			}
			if date != "" {
				fmt.Printf(" built %s", date)
			}
			fmt.Println()
			os.Exit(0)
		}
	}

	listCmd := &cobra.Command{
		Use:          "list",
		Short:        "List source mailboxes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, o)
		},
	}

	so := &syncOptions{}
	syncCmd := &cobra.Command{
		Use:          "sync",
		Short:        "Copy messages missing on the destination",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, o, so)
		},
	}
	syncCmd.Flags().IntVar(&so.concurrency, "concurrency", 1, "Number of mailboxes synced at once (one connection pair each)")
	syncCmd.Flags().BoolVarP(&so.yes, "yes", "y", false, "Do not ask for confirmation")
	syncCmd.Flags().BoolVar(&so.noTUI, "no-tui", false, "Disable the progress UI")

	var endpoint string
	loginCmd := &cobra.Command{
		Use:          "login",
		Short:        "Store an endpoint password in the system keyring",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, o, endpoint)
		},
	}
	loginCmd.Flags().StringVar(&endpoint, "endpoint", "src", "Endpoint to store the password for (src or dst)")

	rootCmd.AddCommand(listCmd, syncCmd, loginCmd)
	return rootCmd
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func loadConfig(o *rootOptions) (*config.Config, error) {
	if o.configPath == "" {
		return nil, errors.New("missing required flag: --config")
	}
	return config.Load(o.configPath)
}

// resolvePasswords fills in passwords missing from the configuration. The
// keyring is only opened when one is needed.
func resolvePasswords(logger *slog.Logger, eps ...*config.Endpoint) error {
	var missing []*config.Endpoint
	for _, ep := range eps {
		if ep.Mbox == "" && ep.Password == "" {
			missing = append(missing, ep)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	r := credential.Resolver{Prompt: credential.TerminalPrompt(os.Stderr)}
	if ring, err := credential.OpenKeyring(); err != nil {
		logger.Debug("keyring unavailable", "error", err)
	} else {
		r.Store = ring
	}
	for _, ep := range missing {
		pw, err := r.Resolve(ep.Password, ep.User, ep.Host)
		if err != nil {
			return err
		}
		ep.Password = pw
	}
	return nil
}

func connectSource(ctx context.Context, ep config.Endpoint) (mailsync.Session, error) {
	if ep.Mbox != "" {
		s, err := mboxsource.Open(ep.Mbox, ep.Mailbox)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		return s, nil
	}
	s, err := imaputil.DialAndLogin(ctx, ep.IMAP())
	if err != nil {
		return nil, fmt.Errorf("connect source: %w", err)
	}
	return s, nil
}

func connectPair(ctx context.Context, cfg *config.Config) (mailsync.SessionPair, error) {
	src, err := connectSource(ctx, cfg.Src)
	if err != nil {
		return mailsync.SessionPair{}, err
	}
	dst, err := imaputil.DialAndLogin(ctx, cfg.Dst.IMAP())
	if err != nil {
		_ = src.Logout()
		return mailsync.SessionPair{}, fmt.Errorf("connect destination: %w", err)
	}
	return mailsync.SessionPair{Src: src, Dst: dst}, nil
}

// logoutAll logs out of every session. Failures are logged, never returned.
func logoutAll(logger *slog.Logger, pairs []mailsync.SessionPair) {
	for _, p := range pairs {
		for side, s := range map[string]mailsync.Session{"src": p.Src, "dst": p.Dst} {
			if s == nil {
				continue
			}
			if err := s.Logout(); err != nil {
				logger.Warn("logout failed", "side", side, "error", err)
			}
		}
	}
}

func runList(cmd *cobra.Command, o *rootOptions) error {
	logger, closeLog, err := newLogger(o.logLevel, o.logFile, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	ctx := cmd.Context()

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if err := resolvePasswords(logger, &cfg.Src); err != nil {
		return err
	}
	src, err := connectSource(ctx, cfg.Src)
	if err != nil {
		logger.Error("connect source", "endpoint", cfg.Src.String(), "error", err)
		return err
	}
	defer logoutAll(logger, []mailsync.SessionPair{{Src: src}})

	logger.Debug("listing source mailboxes", "endpoint", cfg.Src.String())
	names, err := mailsync.ListAll(ctx, src)
	if err != nil {
		logger.Error("list mailboxes", "error", err)
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

func runSync(cmd *cobra.Command, o *rootOptions, so *syncOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	useTUI := !so.noTUI && isTerminal()
	logWriter := io.Writer(os.Stderr)
	if useTUI && o.logFile == "" {
		// The progress UI owns the terminal.
		logWriter = io.Discard
	}
	base, closeLog, err := newLogger(o.logLevel, o.logFile, logWriter)
	if err != nil {
		return err
	}
	defer closeLog()

	runID := uuid.NewString()
	logger := base.With("run", runID)

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if err := resolvePasswords(logger, &cfg.Src, &cfg.Dst); err != nil {
		return err
	}

	first, err := connectPair(ctx, cfg)
	if err != nil {
		logger.Error("connect", "error", err)
		return err
	}
	pairs := []mailsync.SessionPair{first}
	defer func() { logoutAll(logger, pairs) }()

	filter := mailsync.NewFilter(cfg.Src.Include, cfg.Src.Exclude)
	logger.Debug("mailbox filter", "include", filter.Include, "exclude", cfg.Src.Exclude)
	boxes, err := mailsync.ListFiltered(ctx, first.Src, filter)
	if err != nil {
		logger.Error("build mailbox list", "error", err)
		return err
	}
	if len(boxes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No mailboxes to process.")
		return nil
	}

	if !so.yes && isTerminal() {
		summary := fmt.Sprintf("From: %s\nTo:   %s\n\n%d mailbox(es): %s",
			cfg.Src, cfg.Dst, len(boxes), strings.Join(boxes, ", "))
		ok, err := runConfirmTUI("Start sync?", summary)
		if err != nil {
			return fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	workers := min(max(so.concurrency, 1), len(boxes))
	for len(pairs) < workers {
		p, err := connectPair(ctx, cfg)
		if err != nil {
			logger.Warn("extra connection failed, continuing with fewer workers", "workers", len(pairs), "error", err)
			break
		}
		pairs = append(pairs, p)
	}

	engine := mailsync.NewEngine(mailsync.Options{
		Concurrency: len(pairs),
		RunID:       runID,
		Logger:      base,
	})
	var sum mailsync.RunSummary
	if useTUI {
		sum, err = runTUI(ctx, cancel, engine, pairs, boxes)
	} else {
		sum, err = engine.RunPool(ctx, pairs, boxes)
	}
	printReport(cmd.OutOrStdout(), sum)

	if err != nil {
		logger.Error("sync aborted", "error", err)
		return err
	}
	if err := sum.Err(); err != nil {
		logger.Error("some mailboxes could not be synced", "error", err)
		return err
	}
	return nil
}

func runLogin(cmd *cobra.Command, o *rootOptions, endpoint string) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	var ep config.Endpoint
	switch endpoint {
	case "src":
		ep = cfg.Src
	case "dst":
		ep = cfg.Dst
	default:
		return fmt.Errorf("invalid --endpoint %q (expected src or dst)", endpoint)
	}
	if ep.Mbox != "" {
		return errors.New("mbox sources need no password")
	}
	prompt := credential.TerminalPrompt(os.Stderr)
	if prompt == nil {
		return errors.New("login needs an interactive terminal")
	}
	pw, err := prompt(fmt.Sprintf("Password for %s: ", credential.Key(ep.User, ep.Host)))
	if err != nil {
		return err
	}
	if pw == "" {
		return errors.New("empty password")
	}
	ring, err := credential.OpenKeyring()
	if err != nil {
		return err
	}
	if err := (credential.Resolver{Store: ring}).Save(ep.User, ep.Host, pw); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored password for %s\n", credential.Key(ep.User, ep.Host))
	return nil
}
