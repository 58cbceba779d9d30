package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
)

func newHistoryCmd(o *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "Show recent level-ups, rank-ups and prestiges",
		Args:  exactUser(0, "history <user>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				entries := st.RecentHistory(limit)
				fmt.Fprintln(out(cmd), Heading(IconScroll, "History"))
				if len(entries) == 0 {
					fmt.Fprintln(out(cmd), Muted.Render("(no entries)"))
					return nil
				}
				for _, e := range entries {
					fmt.Fprintf(out(cmd), "%s %s %s %s\n",
						HistoryIcon(e.Type),
						Muted.Render(e.Timestamp.Local().Format("2006-01-02 15:04")),
						e.Title,
						Muted.Render(fmt.Sprintf("[%s L%d]", e.Rank, e.Level)),
					)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Number of entries")
	return cmd
}

func newListCmd(o *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored users by prestige and total XP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, cleanup, err := o.openRepo(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rows, err := repo.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(out(cmd), Muted.Render("(no users)"))
				return nil
			}

			lines := make([]string, 0, len(rows)+1)
			lines = append(lines, Key.Render(fmt.Sprintf("%-20s %-10s %5s %8s %3s", "USER", "RANK", "LVL", "XP", "P")))
			for _, r := range rows {
				lines = append(lines, fmt.Sprintf("%-20s %-10s %5d %8d %3d", r.UserID, r.Rank, r.Level, r.TotalXP, r.PrestigeLevel))
			}
			fmt.Fprintln(out(cmd), Panel.Render(strings.Join(lines, "\n")))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum rows")
	return cmd
}

func newRanksCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ranks",
		Short: "Print the rank table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := o.engine()
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), Heading(IconRank, "Ranks"))
			for _, def := range engine.Ranks().Ordered() {
				row := lipgloss.JoinHorizontal(lipgloss.Top,
					Gold.Width(12).Render(string(def.ID)),
					lipgloss.NewStyle().Width(26).Render(def.Label()),
					fmt.Sprintf("%6d ML  x%.2f", def.MLCoinsRequired, def.Multiplier),
				)
				fmt.Fprintln(out(cmd), row)
			}
			fmt.Fprintln(out(cmd), Muted.Render(fmt.Sprintf("prestige from level %d", engine.Config().PrestigeMinLevel)))
			return nil
		},
	}
}
