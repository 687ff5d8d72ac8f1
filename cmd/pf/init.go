package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/storage/factory"
	"github.com/printfleet/printfleet/internal/ui"
)

const gitignoreContent = `# printfleet runtime files
*.db
*.db-journal
*.db-wal
*.lock
`

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create a printfleet project in the current directory",
	GroupID: "setup",
	Long: `Creates .printfleet/ with a commented config.yaml and, for the sqlite
backend, an empty database. Running it again on an existing project only
creates what is missing.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			FatalError("%v", err)
		}
		dir := filepath.Join(cwd, config.DirName)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			FatalError("create %s: %v", dir, err)
		}

		cfgPath := filepath.Join(dir, "config.yaml")
		created := false
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(config.DefaultConfigYAML), 0o600); err != nil {
				FatalError("write config.yaml: %v", err)
			}
			created = true
		}
		ignorePath := filepath.Join(dir, ".gitignore")
		if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
			if err := os.WriteFile(ignorePath, []byte(gitignoreContent), 0o600); err != nil {
				WarnError("failed to create .gitignore: %v", err)
			}
		}

		// The project may predate this run; its own config decides the backend.
		local := config.LoadLocalConfig(dir)
		backend := backendFlag
		if backend == "" {
			backend = local.Backend
		}
		if backend == "" {
			backend = factory.BackendSQLite
		}

		var dbFile string
		if backend == factory.BackendSQLite {
			dbFile = dbPath
			if dbFile == "" && local.DB != "" {
				dbFile = local.DB
				if !filepath.IsAbs(dbFile) {
					dbFile = filepath.Join(cwd, dbFile)
				}
			}
			if dbFile == "" {
				dbFile = filepath.Join(dir, defaultDBName)
			}
			s, err := factory.New(getRootContext(), backend, factory.Options{Path: dbFile})
			if err != nil {
				FatalError("create database: %v", err)
			}
			_ = s.Close()
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"dir":            dir,
				"config":         cfgPath,
				"config_created": created,
				"backend":        backend,
				"database":       dbFile,
			})
			return
		}
		fmt.Printf("%s Initialized printfleet in %s\n", ui.RenderPassIcon(), dir)
		fmt.Printf("  backend: %s\n", backend)
		if dbFile != "" {
			fmt.Printf("  database: %s\n", dbFile)
		}
		if !created {
			fmt.Printf("  %s\n", ui.RenderMuted("config.yaml already existed and was left unchanged"))
		}
		fmt.Printf("\nNext: %s\n", ui.RenderAccent("pf printer add --name voron --host 10.0.0.5 --materials PLA"))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
