package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vellumbot/internal/reference"
	"github.com/MrWong99/vellumbot/pkg/dice"
)

func newLookupCmd(opts *rootOptions) *cobra.Command {
	var (
		max  int
		data string
	)
	cmd := &cobra.Command{
		Use:   "lookup <domain> <terms...>",
		Short: "Search the rules reference",
		Long: `Search the rules reference the way ".lookup" does in chat. An exact name
prints its one-line description; otherwise up to --max teasers are listed.
An unknown domain fails with the list of known ones.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := openLibrary(opts, data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			lines, err := lib.Find(args[0], args[1:], max)
			if err != nil {
				return fmt.Errorf("%w (known: %s)", err, strings.Join(lib.Domains(), ", "))
			}
			if len(lines) == 0 {
				suggestions, _ := lib.Suggest(args[0], args[1:], 3)
				if len(suggestions) == 0 {
					fmt.Fprintln(out, "no matches")
					return nil
				}
				fmt.Fprintf(out, "no matches; did you mean: %s?\n", strings.Join(suggestions, ", "))
				return nil
			}
			for _, l := range lines {
				fmt.Fprintln(out, l)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max", 10, "maximum number of teasers")
	cmd.Flags().StringVar(&data, "data", "", "reference dataset to use instead of the configured one")
	return cmd
}

// openLibrary loads --data, then the configured reference.data_path, then
// the embedded dataset.
func openLibrary(opts *rootOptions, data string) (*reference.Library, error) {
	if data != "" {
		return reference.Load(data)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Reference.DataPath != "" {
		return reference.Load(cfg.Reference.DataPath)
	}
	return reference.Embedded()
}

func newRollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roll <expression>",
		Short: "Roll dice, e.g. 2d6+3 or 4d6h3x6sort",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := dice.Parse(args[0])
			if err != nil {
				return err
			}
			results := expr.Roll(dice.Default, 0)
			if expr.Sort {
				dice.SortResults(results)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = [%s]\n", expr, dice.FormatResults(results))
			return nil
		},
	}
}
