// Command zjj-dbcheck prints the repository database's effective pragmas,
// schema migration version, and table list for debugging a deployment.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lprior-repo/zjj/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	db, err := store.InitDB()
	if err != nil {
		slog.Error("failed to initialize database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		slog.Error("failed to query journal_mode", "error", err.Error())
		os.Exit(1)
	}
	fmt.Printf("Journal mode: %s\n", journalMode)

	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		slog.Error("failed to query synchronous", "error", err.Error())
		os.Exit(1)
	}
	fmt.Printf("Synchronous: %d\n", synchronous)

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		slog.Error("failed to query busy_timeout", "error", err.Error())
		os.Exit(1)
	}
	fmt.Printf("Busy timeout: %dms\n", busyTimeout)

	current, latest, err := store.SchemaVersion(db)
	if err != nil {
		slog.Error("failed to read schema version", "error", err.Error())
		os.Exit(1)
	}
	fmt.Printf("Schema version: %d (latest %d)\n", current, latest)

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		slog.Error("failed to query tables", "error", err.Error())
		os.Exit(1)
	}
	defer rows.Close()

	fmt.Println("\nTables:")
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			slog.Error("failed to scan table name", "error", err.Error())
			os.Exit(1)
		}
		fmt.Printf("  - %s\n", name)
	}

	fmt.Println("\nDatabase verification successful.")
}
