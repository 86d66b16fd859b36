package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"workplan/internal/app"
	"workplan/internal/blob"
	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/engine"
	"workplan/internal/engine/auth"
	"workplan/internal/repo"
	"workplan/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wp",
	Short: "Work plan and report lifecycle CLI",
	Long: `wp manages faculty work plans and institutional reports.
- Workspace: directory holding the SQLite store and the optional workplan.yml seed.
- Actors: administrators (global or campus-scoped), coordinators (a campus, optionally a program) and managers.
- Plans: draft -> submitted -> approved/rejected; rejected plans can be reopened. Submission checks required fields and the hour budget.
- Reports: plan progress reports, template reports with numbered versions, and indicator reports, listed together with 'wp report list'.
- SNIES: managers submit values per template and period; coordinators consolidate them into a dataset.
- Event log: every change, view with 'wp log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("db-driver") == string(db.Postgres) {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WORKPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "admin", "actor the command runs as")
	flags.String("institution", "", "institution id used when seeding the config")
	flags.String("db-driver", "", "database driver: sqlite (default) or postgres")
	flags.String("db-dsn", "", "database DSN; defaults to the workspace SQLite file")
	flags.String("log-level", "warn", "log level")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("notify-endpoint", "", "notification service URL; empty disables notifications")
	flags.String("notify-secret", "", "bearer secret for the notification service")
	flags.Duration("notify-timeout", 5*time.Second, "notification request timeout")
	flags.String("blob-driver", "memory", "upload storage: memory or s3")
	flags.String("blob-public-url", "", "base URL for uploaded files")
	flags.String("s3-bucket", "", "S3 bucket")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-endpoint", "", "S3-compatible endpoint")
	flags.String("s3-access-key-id", "", "S3 access key id")
	flags.String("s3-secret-access-key", "", "S3 secret access key")
	flags.Bool("s3-path-style", false, "use path-style S3 addressing")
	flags.VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(campusCmd())
	rootCmd.AddCommand(programCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(sniesCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func settings() app.Settings {
	return app.Settings{
		Workspace:      viper.GetString("workspace"),
		InstitutionID:  viper.GetString("institution"),
		DBDriver:       viper.GetString("db-driver"),
		DBDSN:          viper.GetString("db-dsn"),
		LogLevel:       viper.GetString("log-level"),
		LogFormat:      viper.GetString("log-format"),
		NotifyEndpoint: viper.GetString("notify-endpoint"),
		NotifySecret:   viper.GetString("notify-secret"),
		NotifyTimeout:  viper.GetDuration("notify-timeout"),
		Blob: blob.Config{
			Driver:        viper.GetString("blob-driver"),
			PublicBaseURL: viper.GetString("blob-public-url"),
			S3: blob.S3Config{
				Bucket:          viper.GetString("s3-bucket"),
				Region:          viper.GetString("s3-region"),
				Endpoint:        viper.GetString("s3-endpoint"),
				AccessKeyID:     viper.GetString("s3-access-key-id"),
				SecretAccessKey: viper.GetString("s3-secret-access-key"),
				PathStyle:       viper.GetBool("s3-path-style"),
			},
		},
	}
}

func initCmd() *cobra.Command {
	var b app.Bootstrap
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the store, a default campus and the first administrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if writeConfig {
				path := config.Path(workspace)
				if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
					id := viper.GetString("institution")
					if id == "" {
						id = "default"
					}
					if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
						return err
					}
				}
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				admin, err := app.Init(ctx, rt.Engine.Repo, b, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(admin)
				}
				fmt.Printf("Initialized %s for institution %s; administrator: %s\n", workspace, rt.Engine.Config.Institution.ID, admin.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&b.CampusID, "campus-id", "", "default campus id")
	cmd.Flags().StringVar(&b.CampusName, "campus-name", "", "default campus name")
	cmd.Flags().StringVar(&b.AdminID, "admin-id", "", "administrator id")
	cmd.Flags().StringVar(&b.AdminName, "admin-name", "", "administrator name")
	cmd.Flags().StringVar(&b.AdminEmail, "admin-email", "", "administrator email")
	cmd.Flags().BoolVar(&writeConfig, "write-config", true, "write a default workplan.yml when the workspace has none")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Institution config",
		Long:  "Plan types, required fields, hour bounds and the strategic catalog. The copy stored in the database is authoritative.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the config stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if viper.GetBool("json") {
					return printJSON(rt.Engine.Config)
				}
				out, err := rt.Engine.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	})
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the institution config from YAML into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if !actor.IsAdmin() || !auth.Resolve(actor).AllCampuses {
					return auth.Forbidden("config.import", "only global administrators import config")
				}
				if err := app.ImportConfig(ctx, e.Repo, cfg, actor.ID, time.Now()); err != nil {
					return err
				}
				fmt.Printf("Imported config for institution %s\n", cfg.Institution.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate counts over the actor's scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				stats, err := e.Statistics(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Managers: %d\nAssigned hours: %.1f\n", stats.Managers, stats.AssignedHours)
				tw := newTable(table.Row{"Kind", "Status", "Count"})
				for status, n := range stats.PlansByStatus {
					tw.AppendRow(table.Row{"plan", status, n})
				}
				for status, n := range stats.TemplateReportsByStatus {
					tw.AppendRow(table.Row{"template report", status, n})
				}
				tw.SortBy([]table.SortBy{{Number: 1}, {Number: 2}})
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every recorded change: plan transitions, reviews, versions, consolidations and admin changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				events, err := e.ListEvents(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Campus", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CampusID, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.CampusID, "campus", "", "campus filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: legacyHeader,
					DevLogin:               devLogin,
					Logger:                 rt.Log,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("WORKPLAN_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  rt.Metrics,
					Log:      rt.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving work plan API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose /auth/dev/login (local testing only)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-legacy-actor-header", false, "accept the unauthenticated X-Actor-Id header")
	return cmd
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, settings())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// withActor runs fn as the actor named by --actor-id.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, auth.Actor) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		actorID := viper.GetString("actor-id")
		actor, err := rt.Engine.LoadActor(ctx, actorID)
		if err != nil {
			if errors.Is(err, engine.ErrNotFound) {
				return fmt.Errorf("actor %q is not registered (run 'wp init' or pass --actor-id)", actorID)
			}
			return err
		}
		return fn(ctx, rt.Engine, actor)
	})
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

// printJSONOrTable prints v as JSON, or as a one-column-per-field table when
// v is a flat object.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return printJSON(v)
	}
	tw := newTable(table.Row{"Field", "Value"})
	for _, k := range sortedKeys(fields) {
		val := fields[k]
		switch val.(type) {
		case map[string]any, []any:
			raw, _ := json.Marshal(val)
			val = string(raw)
		}
		tw.AppendRow(table.Row{k, val})
	}
	tw.Render()
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
