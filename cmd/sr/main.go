package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"seisreview/internal/app"
	"seisreview/internal/config"
	"seisreview/internal/console"
	"seisreview/internal/db"
	"seisreview/internal/domain"
	"seisreview/internal/engine"
	"seisreview/internal/migrate"
	"seisreview/internal/server"
	seisreviewsdk "seisreview/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "sr",
	Short: "Seismic event review CLI",
	Long: `sr lets operators review automatically detected seismic events.
- Catalog: the service that owns events, their recorded data and station waveforms (sr serve runs one).
- Claim: blocking an event for your review so no other operator can take it.
- Review: the guided walk through recorded data and seismograms that ends with a decision.
- Reject: the only decision currently available; confirm and escalate are not wired yet.
- Audit: every claim, rejection and seed is recorded, view it with 'sr audit tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SEISREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("operator", "", "operator identifier (overrides config)")
	rootCmd.PersistentFlags().String("api-url", "", "catalog base URL (overrides config)")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the catalog")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "operator", "api-url", "token", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Browse catalog events"}
	ev.AddCommand(eventsListCmd())
	ev.AddCommand(eventsAllCmd())
	ev.AddCommand(eventsShowCmd())
	return ev
}

func eventsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List events awaiting review, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *seisreviewsdk.Client) error {
				items, err := c.ListUnreviewedEvents(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("No events awaiting review.")
					return nil
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Occurred At", "Magnitude", "Coordinates"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.OccurredAt, e.Magnitude, e.Coordinates})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func eventsAllCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "all",
		Short: "List every event with per-state counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *seisreviewsdk.Client) error {
				list, err := c.AllEvents(cmd.Context(), state)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Occurred At", "Magnitude", "State", "Reviewer"})
				for _, e := range list.Items {
					tw.AppendRow(table.Row{e.ID, e.OccurredAt, e.Magnitude, e.State, deref(e.ReviewerID)})
				}
				tw.Render()
				st := newTable()
				st.AppendHeader(table.Row{"State", "Events"})
				for _, s := range domain.KnownStates {
					st.AppendRow(table.Row{s, list.Stats[string(s)]})
				}
				st.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only events in this state")
	return cmd
}

func eventsShowCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recorded data and seismograms of an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return fmt.Errorf("--id required")
			}
			return withClient(func(c *seisreviewsdk.Client) error {
				rc, err := c.FetchRecordedClassification(cmd.Context(), id)
				if err != nil {
					return err
				}
				sets, err := c.FetchStationWaveforms(cmd.Context(), id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"event_id": id, "recorded_data": rc, "stations": sets})
				}
				tw := newTable()
				tw.SetTitle(fmt.Sprintf("Event #%d", id))
				tw.AppendRows([]table.Row{
					{"Classification", rc.Classification},
					{"Richter", rc.RichterClassification},
					{"Origin", rc.Origin},
					{"Reach", rc.Reach},
				})
				tw.Render()
				return console.TableRenderer{}.Render(os.Stdout, sets)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "event id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Claim and review events interactively",
		Long:  "Lists events awaiting review, blocks the one you pick and walks you through its recorded data and seismograms.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := resolve()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Debug("review started", "operator_id", cfg.Operator.ID, "catalog", cfg.Service.BaseURL)
			return console.New(app.NewClient(cfg), os.Stdin, os.Stdout, logger).Run(ctx)
		},
	}
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "audit",
		Short: "Catalog audit log",
		Long:  "Every claim, rejection and catalog seed, in the order it happened.",
	}
	a.AddCommand(auditTailCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var limit int
	var after int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *seisreviewsdk.Client) error {
				page, err := c.Audit(cmd.Context(), after, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Event", "Operator"})
				for _, e := range page.Items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EventID, e.OperatorID})
				}
				tw.Render()
				if page.NextAfter > 0 {
					fmt.Printf("more: sr audit tail --after %d\n", page.NextAfter)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	cmd.Flags().Int64Var(&after, "after", 0, "only entries with a greater id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the catalog HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := resolve()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:           cfg.Server.JWTSecret,
				AllowOperatorHeader: cfg.Server.AllowOperatorHeader,
				Logger:              logger,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowOperatorHeader {
				return fmt.Errorf("server.jwt_secret (or SEISREVIEW_JWT_SECRET) is required unless allow_operator_header is set")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, e, cfg.Webhooks, logger)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				logger.Info("serving catalog", "addr", addr, "base_path", basePath, "webhooks", len(cfg.Webhooks))
				fmt.Printf("Serving seisreview API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML event catalog into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := engine.ReadCatalog(file)
			if err != nil {
				return err
			}
			cfg, _, err := resolve()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Seed(ctx, cat, cfg.Operator.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"seeded": n})
				}
				fmt.Printf("Seeded %d events into %s\n", n, db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolve()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret (or SEISREVIEW_JWT_SECRET) is required")
			}
			tok, err := server.MintToken(cfg.Server.JWTSecret, cfg.Operator.ID, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"operator_id": cfg.Operator.ID, "token": tok})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default seisreview.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolve()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "***"
			}
			if cfg.Operator.Token != "" {
				cfg.Operator.Token = "***"
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func resolve() (*config.Config, *slog.Logger, error) {
	logger, err := app.NewLogger(os.Stderr, viper.GetString("log-level"))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := app.ResolveConfig(viper.GetString("workspace"), app.Overrides{
		OperatorID: viper.GetString("operator"),
		APIURL:     viper.GetString("api-url"),
		Token:      viper.GetString("token"),
		JWTSecret:  viper.GetString("jwt-secret"),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func withClient(fn func(*seisreviewsdk.Client) error) error {
	cfg, _, err := resolve()
	if err != nil {
		return err
	}
	return fn(app.NewClient(cfg))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn))
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
