package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/storage/factory"
	"github.com/printfleet/printfleet/internal/telemetry"
)

var (
	dbPath      string
	backendFlag string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	store storage.Storage

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	teardownOnce sync.Once
)

// noDbCommands run without opening the store, as does everything under
// config and completion.
var noDbCommands = map[string]bool{
	"init":    true,
	"version": true,
	"help":    true,
}

func isNoDbCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" || c.Name() == "completion" {
			return true
		}
	}
	return noDbCommands[cmd.Name()]
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.AddGroup(&cobra.Group{ID: "fleet", Title: "Fleet & Catalog:"})
	rootCmd.AddGroup(&cobra.Group{ID: "schedule", Title: "Scheduling:"})
	rootCmd.AddGroup(&cobra.Group{ID: "daemons", Title: "Status Feed & Server:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: .printfleet/printfleet.db)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Storage backend: sqlite, mysql or memory (default: config backend)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "pf",
	Short: "pf - 3D printer fleet scheduler",
	Long: `Schedules product components onto a fleet of Moonraker/Klipper printers,
honouring materials, availability windows and due dates.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("pf version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}

		if err := telemetry.Init(rootCtx, "pf", Version); err != nil {
			WarnError("telemetry disabled: %v", err)
		}

		if isNoDbCommand(cmd) {
			return
		}
		openStore(rootCtx)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// getRootContext returns the signal-aware context, or Background when no
// command has run yet.
func getRootContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func currentBackend() string {
	if backendFlag != "" {
		return backendFlag
	}
	return config.GetString("backend")
}

// resolveDBPath picks the SQLite file: --db, then config db (relative to the
// project root), then <project>/.printfleet/printfleet.db.
func resolveDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	projectDir := config.ProjectDir()
	if p := config.GetString("db"); p != "" {
		if !filepath.IsAbs(p) && projectDir != "" {
			p = filepath.Join(filepath.Dir(projectDir), p)
		}
		return p, nil
	}
	if projectDir == "" {
		return "", fmt.Errorf("no %s directory found", config.DirName)
	}
	return filepath.Join(projectDir, defaultDBName), nil
}

const defaultDBName = "printfleet.db"

func storeOptions() (factory.Options, error) {
	opts := factory.Options{
		ServerHost:     config.GetString("mysql.host"),
		ServerPort:     config.GetInt("mysql.port"),
		ServerUser:     config.GetString("mysql.user"),
		ServerPassword: config.GetString("mysql.password"),
		ServerTLS:      config.GetBool("mysql.tls"),
		Database:       config.GetString("mysql.database"),
		OpenTimeout:    30 * time.Second,
	}
	backend := currentBackend()
	if backend == "" || backend == factory.BackendSQLite {
		path, err := resolveDBPath()
		if err != nil {
			return opts, err
		}
		opts.Path = path
	}
	return opts, nil
}

func openStore(ctx context.Context) {
	opts, err := storeOptions()
	if err != nil {
		FatalErrorWithHint(err.Error(), "Run 'pf init' to create a project, or pass --db")
	}
	debug.Logf("opening %s store (path=%q)\n", currentBackend(), opts.Path)
	s, err := factory.New(ctx, currentBackend(), opts)
	if err != nil {
		FatalError("open store: %v", err)
	}
	store = s
}

// teardown closes the store and flushes telemetry once.
func teardown() {
	teardownOnce.Do(func() {
		if store != nil {
			if err := store.Close(); err != nil {
				debug.Logf("close store: %v\n", err)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			debug.Logf("telemetry shutdown: %v\n", err)
		}
		if rootCancel != nil {
			rootCancel()
		}
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
