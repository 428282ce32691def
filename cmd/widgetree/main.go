// Package main provides the widgetree CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"widgetree/internal/config"
	"widgetree/internal/logging"
	"widgetree/internal/model"
	"widgetree/internal/site"
	"widgetree/internal/store"
	"widgetree/internal/tree"
	"widgetree/internal/version"
	"widgetree/internal/widgets"
)

// Version is the current widgetree CLI version
var Version = "0.1.0"

var (
	dbFlag       string
	siteFlag     string
	logLevelFlag string
	logJSONFlag  bool
)

var rootCmd = &cobra.Command{
	Use:           "widgetree",
	Short:         "widgetree - versioned widget trees",
	Long:          `widgetree stores ordered trees of typed widgets, validates where each widget may be placed, and snapshots trees into append-only commit histories.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// app holds everything a command needs once the database is open.
type app struct {
	cfg      *config.Config
	logs     *logging.Data
	db       *store.DB
	engine   *tree.Engine
	versions *version.Service
}

func openApp() (*app, error) {
	cfg := config.FromArgs(dbFlag, siteFlag)
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if logJSONFlag {
		cfg.LogJSON = true
	}

	logs, err := logging.New().Level(cfg.LogLevel).JSON(cfg.LogJSON).Make()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	rules, err := site.LoadOrDefault(cfg.SitePath)
	if err != nil {
		logs.Close()
		return nil, err
	}

	reg := tree.NewRegistry()
	if err := widgets.RegisterAll(reg); err != nil {
		logs.Close()
		return nil, err
	}

	db, err := store.Open(cfg.DBPath, cfg.BusyTimeout)
	if err != nil {
		logs.Close()
		return nil, err
	}

	engine := tree.NewEngine(db, tree.NewSite(reg, rules), logs.Logger)
	logs.Logger.Debug().Str("db", cfg.DBPath).Str("site", cfg.SitePath).Msg("opened")
	return &app{
		cfg:      cfg,
		logs:     logs,
		db:       db,
		engine:   engine,
		versions: version.New(db, engine, logs.Logger),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.logs.Close()
}

// withApp wraps a command body with opening and closing the app.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, args)
	}
}

func (a *app) variant(key string) (*tree.Variant, error) {
	v := a.engine.Registry().Lookup(key)
	if v.IsUnknown() {
		return nil, fmt.Errorf("unknown widget type %q (known: %s)", key, strings.Join(a.engine.Registry().Keys(), ", "))
	}
	return v, nil
}

func (a *app) node(ctx context.Context, arg string) (*tree.Node, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	return a.engine.GetNode(ctx, id)
}

func (a *app) tracker(ctx context.Context, arg string) (*version.Tracker, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return a.versions.Get(ctx, id)
	}
	return a.versions.GetByUID(ctx, arg)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseAttrs turns key=value pairs into attributes. Integer values are
// stored as numbers, everything else as strings.
func parseAttrs(pairs []string) (model.Attributes, error) {
	attrs := model.Attributes{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q, expected key=value", p)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			attrs[k] = n
		} else {
			attrs[k] = v
		}
	}
	return attrs, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Database file (default $WIDGETREE_DB or widgetree.db)")
	rootCmd.PersistentFlags().StringVar(&siteFlag, "site", "", "Site rules YAML file (default $WIDGETREE_SITE)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSONFlag, "log-json", false, "Emit JSON log lines")

	addTreeCommands(rootCmd)
	addVersionCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
