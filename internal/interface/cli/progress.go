package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/pkg/logger"
)

func discardLogger() *slog.Logger {
	return logger.Nop().Slog()
}

func newShowCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Show rank, level and multipliers of a user",
		Args:  exactUser(0, "show <user>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				printProgress(cmd, st)
				return nil
			})
		},
	}
}

func newXPCmd(o *options) *cobra.Command {
	var source, desc string

	cmd := &cobra.Command{
		Use:   "xp <user> <amount>",
		Short: "Credit XP and cascade level-ups",
		Args:  exactUser(1, "xp <user> <amount>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			src := progression.XPSource(source)
			if !src.IsValid() {
				return fmt.Errorf("unknown XP source %q", source)
			}
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				before := st.UserProgress().CurrentLevel
				if err := st.AddXP(amount, src, desc); err != nil {
					return err
				}
				after := st.UserProgress()
				fmt.Fprintf(out(cmd), "%s %+d XP %s\n", IconBolt, amount, Muted.Render("("+source+")"))
				if after.CurrentLevel > before {
					fmt.Fprintln(out(cmd), Gold.Render(fmt.Sprintf("LEVEL UP %d → %d", before, after.CurrentLevel)))
				}
				fmt.Fprintln(out(cmd), LabelValue("Level", after.CurrentLevel))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", string(progression.SourceExerciseCompletion), "XP source")
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "Description")
	return cmd
}

func newCoinsCmd(o *options) *cobra.Command {
	var reason string
	var manual bool

	cmd := &cobra.Command{
		Use:   "coins <user> <amount>",
		Short: "Credit ML Coins and promote while affordable",
		Args:  exactUser(1, "coins <user> <amount>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			var extra []ranks.Option
			if manual {
				extra = append(extra, ranks.WithAutoRankUp(false, false))
			}
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				before := st.UserProgress().CurrentRank
				if err := st.AddMLCoins(amount, reason); err != nil {
					return err
				}
				after := st.UserProgress()
				fmt.Fprintf(out(cmd), "%s %+d ML Coins (total %d)\n", IconCoin, amount, after.MLCoinsEarned)
				if after.CurrentRank != before {
					fmt.Fprintln(out(cmd), Gold.Render(fmt.Sprintf("RANK UP %s → %s", before, after.CurrentRank)))
				} else if st.CheckRankUp() {
					fmt.Fprintln(out(cmd), Warn.Render("rank-up available"))
				}
				return nil
			}, extra...)
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason")
	cmd.Flags().BoolVar(&manual, "no-promote", false, "Do not promote automatically")
	return cmd
}

func newActivityCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "activity <user>",
		Short: "Record activity for today and update the streak",
		Args:  exactUser(0, "activity <user>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				st.RecordActivity(time.Now())
				fmt.Fprintln(out(cmd), LabelValue("Streak", fmt.Sprintf("%d days", st.State().Progress.ActivityStreak)))
				return nil
			})
		},
	}
}

func newRankUpCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rankup <user>",
		Short: "Promote one rank when enough ML Coins were earned",
		Args:  exactUser(0, "rankup <user>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				if !st.RankUp() {
					fmt.Fprintln(out(cmd), Muted.Render("no rank-up available"))
					return nil
				}
				fmt.Fprintln(out(cmd), Gold.Render(IconRank+" promoted to "+string(st.UserProgress().CurrentRank)))
				return nil
			})
		},
	}
}

func newPrestigeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prestige <user>",
		Short: "Reset rank and level for a permanent bonus",
		Args:  exactUser(0, "prestige <user>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return o.withStore(ctx, args[0], func(st *ranks.Store) error {
				done, err := st.Prestige(ctx)
				if err != nil {
					return err
				}
				if !done {
					fmt.Fprintln(out(cmd), Warn.Render("not eligible for prestige"))
					return nil
				}
				pp := st.PrestigeProgress()
				fmt.Fprintln(out(cmd), Gold.Render(fmt.Sprintf("%s prestige %d reached (x%.2f)", IconCrown, pp.Level, pp.CumulativeMultiplier)))
				return nil
			})
		},
	}
}

func newResetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user>",
		Short: "Reset a user to the starting rank",
		Args:  exactUser(0, "reset <user>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				st.ResetProgress()
				fmt.Fprintln(out(cmd), Good.Render("progress reset"))
				return nil
			})
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RENDERING
// ══════════════════════════════════════════════════════════════════════════════

func printProgress(cmd *cobra.Command, st *ranks.Store) {
	w := out(cmd)
	p := st.UserProgress()
	table := st.Engine().Ranks()
	label := string(p.CurrentRank)
	if def, ok := table.Get(p.CurrentRank); ok {
		label = def.Label()
	}

	fmt.Fprintln(w, Heading(IconSparkle, st.UserID()))
	fmt.Fprintln(w, LabelValue("Rank", fmt.Sprintf("%s %s", p.CurrentRank, Muted.Render("("+label+")"))))
	fmt.Fprintln(w, LabelValue("Level", p.CurrentLevel))
	fmt.Fprintf(w, "%s %s %d/%d\n", Key.Render("XP:"), ProgressBar(p.CurrentXP, p.XPToNextLevel, 20), p.CurrentXP, p.XPToNextLevel)
	fmt.Fprintln(w, LabelValue("Total XP", p.TotalXP))
	fmt.Fprintln(w, LabelValue("ML Coins", p.MLCoinsEarned))

	if next, ok := table.Next(p.CurrentRank); ok {
		fmt.Fprintln(w, LabelValue("Next rank", fmt.Sprintf("%s at %d ML Coins", next.ID, next.MLCoinsRequired)))
	} else {
		fmt.Fprintln(w, LabelValue("Next rank", Gold.Render("max rank")))
	}
	if p.PrestigeLevel > 0 {
		fmt.Fprintln(w, LabelValue("Prestige", p.PrestigeLevel))
	}
	if st.CanPrestige() {
		fmt.Fprintln(w, Gold.Render(IconCrown+" prestige available"))
	}

	b := st.MultiplierBreakdown()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, H2.Render(fmt.Sprintf("Multiplier x%.2f", b.Total)))
	for _, src := range b.Sources {
		line := fmt.Sprintf("- %s %s x%.2f", src.Type, src.Name, src.Value)
		if src.ExpiresAt != nil {
			line += Muted.Render(" until " + src.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Fprintln(w, line)
	}
	if b.HasExpiringSoon {
		fmt.Fprintln(w, Warn.Render(fmt.Sprintf("%s %d source(s) expiring soon", IconHourglass, len(b.ExpiringSoon))))
	}
	if msg := st.Error(); msg != "" {
		fmt.Fprintln(w, Bad.Render(msg))
	}
}
