package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/flowkit/internal/templates"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowkit",
		Short:         "Workflow behavior orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	registerFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newExecuteCmd(),
		newTriggerCmd(),
		newResolveTemplatesCmd(),
		newVersionCmd(),
	)
	return root
}

// withApp loads configuration, wires the app and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newServeCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio and run scheduled workflows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if !noScheduler {
					if err := a.scheduler.Start(ctx); err != nil {
						return err
					}
				}
				a.logger.Info("flowkit serving", "db_path", a.cfg.DBPath, "version", version)
				if err := a.mcp.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scheduled workflows")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var vacuum bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg, vacuum, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "compact the database after migrating")
	return cmd
}

func runMigrate(ctx context.Context, cfg Config, vacuum bool, out io.Writer) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if vacuum {
		if err := s.Vacuum(ctx); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
		fmt.Fprintln(out, "Database compacted")
	}
	fmt.Fprintf(out, "Database ready at %s\n", cfg.DBPath)
	return nil
}

func newExecuteCmd() *cobra.Command {
	var sessionID, data string
	cmd := &cobra.Command{
		Use:   "execute <workflow-id>",
		Short: "Run a workflow manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseJSONObject(data)
			if err != nil {
				return fmt.Errorf("--data: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.service.ExecuteWorkflow(ctx, sessionID, args[0], overrides)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session token of the acting user")
	cmd.Flags().StringVar(&data, "data", "", "workflow data as a JSON object")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newTriggerCmd() *cobra.Command {
	var orgID, data string
	cmd := &cobra.Command{
		Use:   "trigger <event>",
		Short: "Fire an event and run every active workflow listening for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseJSONObject(data)
			if err != nil {
				return fmt.Errorf("--data: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				results, err := a.service.TriggerEvent(ctx, orgID, args[0], payload)
				if err != nil {
					return err
				}
				return printJSON(cmd, results)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&data, "data", "", "event payload as a JSON object")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newResolveTemplatesCmd() *cobra.Command {
	var orgID string
	var rc templates.ResolveContext
	cmd := &cobra.Command{
		Use:   "resolve-templates",
		Short: "Print the template set that applies to a context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				set, err := a.resolver.ResolveTemplateSet(ctx, orgID, rc)
				if err != nil {
					return err
				}
				return printJSON(cmd, set)
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&rc.ManualSetID, "set", "", "explicit template set id")
	cmd.Flags().StringVar(&rc.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&rc.CheckoutInstanceID, "checkout", "", "checkout instance id")
	cmd.Flags().StringVar(&rc.DomainConfigID, "domain", "", "domain config id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func parseJSONObject(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
