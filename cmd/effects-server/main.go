package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/config"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/valueset"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/db"
	"github.com/canvas-medical/canvas-plugins-sub000/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "effects-server",
		Short:        "Effects API and value set catalog server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(instanceCmd())
	root.AddCommand(valuesetCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, _ := cmd.Flags().GetString("instance")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(instanceOrDefault(instance, cfg))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("instance", "", "Target instance (defaults to DEFAULT_INSTANCE)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, _ := cmd.Flags().GetString("instance")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(instanceOrDefault(instance, cfg))
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("instance", "", "Target instance (defaults to DEFAULT_INSTANCE)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func instanceOrDefault(instance string, cfg *config.Config) string {
	if instance != "" {
		return instance
	}
	return cfg.DefaultInstance
}

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage platform instances",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate the schema for an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating instance schema: %s\n", db.SchemaFor(name))
			count, err := db.CreateInstanceSchema(ctx, pool, name, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Printf("Instance created with %d migration(s) applied.\n", count)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Instance identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// valuesetCmd inspects the catalog without a database.
func valuesetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "valueset",
		Short: "Inspect the value set catalog",
	}
	cmd.PersistentFlags().String("custom", "", "YAML file of custom value sets (default CUSTOM_VALUE_SETS)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List value sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := catalogFromFlags(cmd)
			if err != nil {
				return err
			}
			version, _ := cmd.Flags().GetString("version")
			category, _ := cmd.Flags().GetString("category")
			query, _ := cmd.Flags().GetString("query")

			out := cmd.OutOrStdout()
			sets := catalog.List(valueset.Filter{Version: version, Category: category, Query: query})
			for _, vs := range sets {
				fmt.Fprintf(out, "%-60s %s\n", vs.Key, vs.Name)
			}
			fmt.Fprintf(out, "%d value set(s)\n", len(sets))
			return nil
		},
	}
	listCmd.Flags().String("version", "", "Only this version, e.g. v2026")
	listCmd.Flags().String("category", "", "Only this category, e.g. procedure")
	listCmd.Flags().String("query", "", "Match id, name or OID")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Print a value set as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := catalogFromFlags(cmd)
			if err != nil {
				return err
			}
			vs, err := catalog.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(vs)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lookup <system> <code>",
		Short: "List the value sets containing a code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := catalogFromFlags(cmd)
			if err != nil {
				return err
			}
			matches := catalog.Match(args[0], args[1])
			if len(matches) == 0 {
				return fmt.Errorf("no value set contains %s %s", args[0], args[1])
			}
			keys := make([]string, len(matches))
			for i, vs := range matches {
				keys[i] = vs.Key
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(keys, "\n"))
			return nil
		},
	})

	return cmd
}

func catalogFromFlags(cmd *cobra.Command) (*valueset.Catalog, error) {
	return loadCatalog(customPath(cmd))
}

// customPath prefers --custom, even when empty, over CUSTOM_VALUE_SETS from
// the environment or .env.
func customPath(cmd *cobra.Command) string {
	if cmd.Flags().Changed("custom") {
		custom, _ := cmd.Flags().GetString("custom")
		return custom
	}
	return config.CustomValueSets()
}

// loadCatalog loads the embedded catalog and applies the overlay at path,
// when given.
func loadCatalog(path string) (*valueset.Catalog, error) {
	catalog, err := valueset.Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if _, err := catalog.ApplyOverlayFile(path); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}
