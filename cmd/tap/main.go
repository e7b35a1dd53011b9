package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tapline/internal/app"
	"tapline/internal/config"
	"tapline/internal/db"
	"tapline/internal/domain"
	"tapline/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "tap",
	Short: "Tapline CLI",
	Long: `Tapline tracks temporary absences from prison.
- Authorisation: permission for a person to be absent over a date range; moves PENDING -> APPROVED, DENIED, CANCELLED or EXPIRED.
- Occurrence: one scheduled absence under an authorisation; its status is derived from the authorisation, its movements and the clock.
- Movement: a recorded departure (OUT) or return (IN).
- Categorisation: absence type, sub-type, reason category and reason, resolved against reference data.
- Outbox: every change stages domain events in the same transaction; 'tap publish' delivers them.
- Sweep: 'tap sweep' moves ended occurrences to OVERDUE or EXPIRED and expires stale authorisations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TAPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("source", string(domain.SourceDPS), "change source (DPS or NOMIS)")
	flags.String("db-driver", "", "database driver override (sqlite or postgres)")
	flags.String("db-dsn", "", "database DSN override")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format (text or json)")
	for _, name := range []string{"workspace", "json", "actor-id", "source", "db-driver", "db-dsn", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(refdataCmd())
	rootCmd.AddCommand(authorisationCmd())
	rootCmd.AddCommand(occurrenceCmd())
	rootCmd.AddCommand(movementCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(auditCmd())
}

// --- helpers ---

func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		l.SetLevel(lvl)
	}
	if viper.GetString("log-format") == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(l).WithField("service", "tapline")
}

// loadConfig reads the workspace config and applies flag and TAPLINE_*
// environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("db-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("db-dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.OpenWithConfig(ctx, viper.GetString("workspace"), cfg, newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func actor() engine.Actor {
	src := domain.SourceDPS
	if strings.EqualFold(viper.GetString("source"), string(domain.SourceNOMIS)) {
		src = domain.SourceNOMIS
	}
	return engine.Actor{ID: viper.GetString("actor-id"), Source: src}
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

// parseTime accepts RFC 3339 or a UTC date with optional minutes.
func parseTime(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("--%s required", flag)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("--%s: cannot parse %q; use RFC 3339 or YYYY-MM-DDTHH:MM", flag, v)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
