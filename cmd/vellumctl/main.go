// Command vellumctl administers a vellumbot record store and queries the
// rules reference from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vellumbot/internal/app"
	"github.com/MrWong99/vellumbot/internal/config"
	"github.com/MrWong99/vellumbot/internal/store"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	driver     string
	dsn        string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "vellumctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "vellumctl",
		Short: "Administer a vellumbot installation",
		Long: `vellumctl manages the vellumbot record store and gives shell access to
the dice roller and the rules reference.

The store is taken from --config (the same YAML file the server reads, with
VELLUM_* overrides) and may be overridden with --driver and --dsn.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the server's YAML configuration")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "store driver: memory, sqlite or postgres")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "sqlite file or postgres connection string")

	root.AddCommand(
		newExportCmd(opts),
		newImportCmd(opts),
		newMigrateCmd(opts),
		newLookupCmd(opts),
		newRollCmd(),
		newCheckConfigCmd(),
	)
	return root
}

// loadConfig reads --config, or builds a default config with environment
// overrides when none is given.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.Load(o.configPath)
	}
	cfg := &config.Config{}
	if err := config.ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	config.ApplyDefaults(cfg)
	return cfg, nil
}

// storeConfig resolves the store section after flag overrides.
func (o *rootOptions) storeConfig() (config.StoreConfig, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return config.StoreConfig{}, err
	}
	sc := cfg.Store
	if o.driver != "" {
		sc.Driver = config.StoreDriver(o.driver)
	}
	if o.dsn != "" {
		sc.DSN = o.dsn
	}
	if !sc.Driver.IsValid() {
		return sc, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
	return sc, nil
}

func (o *rootOptions) openStore(ctx context.Context) (store.Store, config.StoreConfig, error) {
	sc, err := o.storeConfig()
	if err != nil {
		return nil, sc, err
	}
	st, err := app.DefaultRegistry().OpenStore(ctx, sc)
	return st, sc, err
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Open the configured store, applying any pending schema migrations, and
check that it answers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, sc, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", sc.Driver)
			return nil
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", args[0])
			fmt.Fprintf(out, "  nick:      %s\n", cfg.Bot.Nick)
			fmt.Fprintf(out, "  store:     %s\n", cfg.Store.Driver)
			fmt.Fprintf(out, "  discord:   %t\n", cfg.Discord.Enabled())
			fmt.Fprintf(out, "  wsline:    %t\n", cfg.WSLine.Enabled)
			return nil
		},
	}
}
