// Package cli implements ranksctl, a local command line for inspecting and
// driving progression documents stored in SQLite.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/rank"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/internal/infrastructure/persistence/sqlite"
)

const Version = "0.1.0"

// options are the persistent flags shared by every command.
type options struct {
	dbPath        string
	rankTablePath string
	prestigeLevel int
	engineOpts    []progression.Option
}

// NewRootCmd builds the ranksctl command tree. Extra engine options are
// applied after the flag-derived ones.
func NewRootCmd(engineOpts ...progression.Option) *cobra.Command {
	opts := &options{engineOpts: engineOpts}

	cmd := &cobra.Command{
		Use:           "ranksctl",
		Short:         "Inspect and drive rank progression locally",
		Long:          "ranksctl reads and mutates progression documents in a local SQLite file.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", os.Getenv("RANKS_DB"), "SQLite database path (default ~/.ranks.db)")
	cmd.PersistentFlags().StringVar(&opts.rankTablePath, "rank-table", "", "JSON or YAML rank table (default Maya ranks)")
	cmd.PersistentFlags().IntVar(&opts.prestigeLevel, "prestige-min-level", progression.DefaultPrestigeMinLevel, "Minimum level for prestige")

	cmd.AddCommand(
		newShowCmd(opts),
		newXPCmd(opts),
		newCoinsCmd(opts),
		newActivityCmd(opts),
		newRankUpCmd(opts),
		newPrestigeCmd(opts),
		newMultiplierCmd(opts),
		newHistoryCmd(opts),
		newResetCmd(opts),
		newListCmd(opts),
		newRanksCmd(opts),
	)
	return cmd
}

// Execute runs ranksctl and exits non-zero on error. An interrupt cancels
// the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, Bad.Render(IconError+" "+err.Error()))
		os.Exit(1)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func (o *options) engine() (*progression.Engine, error) {
	eopts := []progression.Option{progression.WithPrestigeMinLevel(o.prestigeLevel)}
	if o.rankTablePath != "" {
		f, err := os.Open(o.rankTablePath)
		if err != nil {
			return nil, fmt.Errorf("open rank table: %w", err)
		}
		defer f.Close()
		table, err := rank.LoadTable(f)
		if err != nil {
			return nil, err
		}
		eopts = append(eopts, progression.WithRankTable(table))
	}
	return progression.NewEngine(append(eopts, o.engineOpts...)...)
}

func (o *options) openRepo(ctx context.Context) (*sqlite.ProgressRepo, func(), error) {
	path := o.dbPath
	if path == "" {
		var err error
		if path, err = sqlite.DefaultDBPath(); err != nil {
			return nil, nil, err
		}
	}
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return sqlite.NewProgressRepo(db), func() { _ = db.Close() }, nil
}

// withStore loads userID into a store, runs fn and saves the document when
// fn changed it.
func (o *options) withStore(ctx context.Context, userID string, fn func(*ranks.Store) error, extra ...ranks.Option) error {
	engine, err := o.engine()
	if err != nil {
		return err
	}
	repo, cleanup, err := o.openRepo(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	storeOpts := append([]ranks.Option{ranks.WithLogger(discardLogger())}, extra...)
	st, err := ranks.NewStore(engine, userID, storeOpts...)
	if err != nil {
		return err
	}
	doc, err := repo.Load(ctx, userID)
	switch {
	case err == nil:
		if err := st.Restore(doc); err != nil {
			return err
		}
	case errors.Is(err, shared.ErrNotFound):
	default:
		return err
	}

	if err := fn(st); err != nil {
		return err
	}
	if !st.Dirty() {
		return nil
	}
	doc = st.Document()
	if err := repo.Save(ctx, doc); err != nil {
		return fmt.Errorf("save %s: %w", userID, err)
	}
	st.MarkSaved(doc.Revision)
	return nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

func exactUser(extra int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != 1+extra {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}
}
