package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"simtracker/internal/config"
	"simtracker/internal/payload"
	"simtracker/internal/simulation"
	"simtracker/internal/store"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags shared by every command.
type rootOptions struct {
	projectDir string
	catalog    string
	format     string
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "simtracker",
		Short:         "Run and inspect tracked simulations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
		},
	}

	// Flags override the environment; empty means "use the environment".
	cmd.PersistentFlags().StringVar(&opts.projectDir, "project-dir", "", "directory holding the database and simulation storage (env PROJECT_DIR)")
	cmd.PersistentFlags().StringVar(&opts.catalog, "catalog", "", "YAML catalogue of simulation defaults (env CATALOG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTypesCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// serviceConfig loads the environment and applies flag overrides.
func (o *rootOptions) serviceConfig() *config.ServiceConfig {
	cfg := config.LoadServiceConfig()
	if o.projectDir != "" {
		cfg.ProjectDir = o.projectDir
	}
	if o.catalog != "" {
		cfg.CatalogFile = o.catalog
	}
	return cfg
}

// catalogDefaults loads the catalogue named by cfg, if any.
func catalogDefaults(cfg *config.ServiceConfig) (map[string]simulation.Config, error) {
	if cfg.CatalogFile == "" {
		return nil, nil
	}
	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	return catalog.Defaults(), nil
}

func newTypesCommand(opts *rootOptions) *cobra.Command {
	var docker bool

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List registered simulation types and their default configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := catalogDefaults(opts.serviceConfig())
			if err != nil {
				return err
			}
			registry := simulation.NewRegistry()
			regOpts := payload.Options{Defaults: defaults}
			if docker {
				// The client connects lazily, so listing never talks to the daemon.
				rt, err := payload.NewDockerRuntime()
				if err != nil {
					return err
				}
				defer rt.Close()
				regOpts.Runtime = rt
			}
			payload.Register(registry, regOpts)
			return printTypes(cmd.OutOrStdout(), opts.format, registry)
		},
	}
	cmd.Flags().BoolVar(&docker, "docker", false, "include the container type")

	return cmd
}

func printTypes(w io.Writer, format string, registry *simulation.Registry) error {
	keys := registry.List()
	if format == "json" {
		out := make(map[string]simulation.Config, len(keys))
		for _, key := range keys {
			out[key], _ = registry.DefaultConfig(key)
		}
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tFAMILY\tPARAMS")
	for _, key := range keys {
		cfg, _ := registry.DefaultConfig(key)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", key, cfg.Name, cfg.Family, len(cfg.Params))
	}
	return tw.Flush()
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		key    string
		failed bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted simulation records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.serviceConfig()
			if _, err := os.Stat(cfg.DatabasePath()); err != nil {
				return fmt.Errorf("no simulation database in %s: %w", cfg.ProjectDir, err)
			}
			st, err := store.New(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()

			filter := store.Filter{Key: key, Limit: limit}
			if cmd.Flags().Changed("failed") {
				filter.Failed = &failed
			}
			records, err := st.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), opts.format, records)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "only records of this simulation type")
	cmd.Flags().BoolVar(&failed, "failed", false, "only failed (or, with =false, successful) records")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 for all)")

	return cmd
}

func printHistory(w io.Writer, format string, records []simulation.Info) error {
	if format == "json" {
		if records == nil {
			records = []simulation.Info{}
		}
		return writeJSON(w, records)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tNAME\tSTATE\tCREATED\tOUTCOME")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Key, r.Name, r.State, r.Created.Local().Format(time.DateTime), outcome(r))
	}
	return tw.Flush()
}

func outcome(r simulation.Info) string {
	switch {
	case r.ForceStopped:
		return "force-stopped"
	case r.Failed:
		return "failed"
	case r.Cancelled:
		return "cancelled"
	case r.IsDone:
		return "ok"
	default:
		return "running"
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogging(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
