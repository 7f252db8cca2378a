/*
main.go - Application entry point

PURPOSE:
  Starts the reservation core server or seeds its ledger.

COMMANDS:
  serve   Run the HTTP API (default when no command is given),
          optionally loading a fixture file first (--fixtures)
  seed    Load rooms, blackout windows and balances from a TOML file

GLOBAL FLAGS:
  --config  TOML config file (optional; defaults apply without it)
  --addr    HTTP listen address, overrides [server].addr
  --db      SQLite database path, overrides [storage].path
            Use ":memory:" for an in-memory database

EXAMPLES:
  ./server serve --config ./server.toml
  ./server serve --db ":memory:" --fixtures ./seed.toml --addr :3000
  ./server seed --fixtures ./seed.toml

SEE ALSO:
  - config/config.go: Configuration sections and defaults
  - cmd/server/app.go: Dependency wiring
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Transactional reservation and approval core",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().String("addr", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
