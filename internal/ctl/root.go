// Package ctl implements standingsctl, the administrative command line for
// the standings service: queue and snapshot control over HTTP, fixture
// seeding and offline verification against the store, and load runs.
package ctl

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/config"
	"github.com/okian/standings/internal/domain/ranking"
	"github.com/okian/standings/pkg/logger"
)

const (
	defaultURL     = "http://localhost:9080"
	defaultTimeout = 30 * time.Second
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	URL     string
	Timeout time.Duration
	Format  string
	Verbose bool

	// Driver and DSN override the configured store for offline commands.
	Driver    string
	DSN       string
	Collation string

	log logger.Logger
}

// Option configures the command tree.
type Option func(*RootOptions)

// WithLogger sets the logger used by seeding, verification and load runs.
func WithLogger(l logger.Logger) Option {
	return func(o *RootOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewRootCommand creates the standingsctl command tree.
func NewRootCommand(options ...Option) *cobra.Command {
	opts := &RootOptions{log: logger.Nop()}
	for _, opt := range options {
		opt(opts)
	}

	cmd := &cobra.Command{
		Use:           "standingsctl",
		Short:         "Administer league table automation",
		Long:          "Trigger and inspect recalculations, manage snapshots, seed fixtures and verify stored tables.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				_ = logger.SetLevelString("debug")
			}
			return nil
		},
	}

	url := os.Getenv("STANDINGS_URL")
	if url == "" {
		url = defaultURL
	}
	cmd.PersistentFlags().StringVar(&opts.URL, "url", url, "base URL of the standings service")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", defaultTimeout, "request timeout")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver for offline commands (default from config)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "store DSN for offline commands (default from config)")
	cmd.PersistentFlags().StringVar(&opts.Collation, "collation", "", "team name collation language (default from config)")

	cmd.AddCommand(NewRecalcCommand(opts))
	cmd.AddCommand(NewPauseCommand(opts))
	cmd.AddCommand(NewResumeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewJobCommand(opts))
	cmd.AddCommand(NewTableCommand(opts))
	cmd.AddCommand(NewSnapshotsCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))

	return cmd
}

func (o *RootOptions) client() *Client {
	return NewClient(o.URL, o.Timeout)
}

func printer(cmd *cobra.Command, o *RootOptions) Printer {
	return Printer{Format: o.Format, W: cmd.OutOrStdout()}
}

// offline opens the configured store and a calculator for commands that
// work without a running service.
func (o *RootOptions) offline(ctx context.Context) (repository.Store, *ranking.Calculator, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	driver, dsn, lang := cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.CollationLanguage
	if o.Driver != "" {
		driver = o.Driver
	}
	if o.DSN != "" {
		dsn = o.DSN
	}
	if o.Collation != "" {
		lang = o.Collation
	}
	store, err := repository.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	return store, ranking.NewCalculator(ranking.WithLanguage(lang)), nil
}
