package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
)

func newMultiplierCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "multiplier",
		Aliases: []string{"mult"},
		Short:   "Manage external XP multiplier sources",
	}
	cmd.AddCommand(newMultiplierAddCmd(o), newMultiplierRemoveCmd(o), newMultiplierPruneCmd(o))
	return cmd
}

func newMultiplierAddCmd(o *options) *cobra.Command {
	var (
		typ       string
		name      string
		desc      string
		value     float64
		permanent bool
		expires   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add <user>",
		Short: "Register a multiplier source, replacing one with the same type and name",
		Args:  exactUser(0, "multiplier add <user> --type event --value 1.5"),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := progression.MultiplierSource{
				Type:        progression.MultiplierType(typ),
				Name:        name,
				Value:       value,
				IsPermanent: permanent,
				Description: desc,
			}
			if !permanent && expires > 0 {
				at := time.Now().Add(expires)
				src.ExpiresAt = &at
			}
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				if err := st.AddMultiplierSource(src); err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), Good.Render(fmt.Sprintf("%s %s registered, total x%.2f",
					IconSparkle, typ, st.MultiplierBreakdown().Total)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(progression.MultiplierEvent), "Multiplier type (time, social, guild, achievement, event)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Source name (defaults to the type)")
	cmd.Flags().StringVar(&desc, "desc", "", "Description")
	cmd.Flags().Float64VarP(&value, "value", "v", 1.0, "Multiplier value")
	cmd.Flags().BoolVar(&permanent, "permanent", false, "Never expires")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Lifetime, e.g. 2h (0 keeps it until removed)")
	return cmd
}

func newMultiplierRemoveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user> <type>",
		Short: "Remove every registered source of a type",
		Args:  exactUser(1, "multiplier remove <user> <type>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := progression.MultiplierType(args[1])
			if !t.IsValid() {
				return fmt.Errorf("unknown multiplier type %q", args[1])
			}
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				st.RemoveMultiplierSource(t)
				fmt.Fprintln(out(cmd), LabelValue("Multiplier", fmt.Sprintf("x%.2f", st.MultiplierBreakdown().Total)))
				return nil
			})
		},
	}
}

func newMultiplierPruneCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prune <user>",
		Short: "Drop expired sources",
		Args:  exactUser(0, "multiplier prune <user>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), args[0], func(st *ranks.Store) error {
				n := st.PruneExpired()
				fmt.Fprintln(out(cmd), LabelValue("Pruned", n))
				return nil
			})
		},
	}
}
