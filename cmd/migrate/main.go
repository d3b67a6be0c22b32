package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"chatwire/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// Applies pending SQL migrations from scripts/migrations in version order.
// The running service only installs the initial schema; this tool exists for
// upgrading databases in place.
func main() {
	dbPath := flag.String("db", "./chatwire.db", "Path to the database file")
	dir := flag.String("dir", migrations.MigrationsDir, "Directory containing migration files")
	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatalf("Failed to read migrations directory: %v", err)
	}

	type migration struct {
		version int
		path    string
	}
	var pending []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil {
			log.Fatalf("Migration file %s has no numeric version prefix", name)
		}
		pending = append(pending, migration{version: version, path: filepath.Join(*dir, name)})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	applied := 0
	for _, m := range pending {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			log.Fatalf("Failed to check migration status: %v", err)
		}
		if count > 0 {
			continue
		}

		fmt.Printf("Applying migration %d (%s)...\n", m.version, filepath.Base(m.path))
		schema, err := os.ReadFile(m.path)
		if err != nil {
			log.Fatalf("Failed to read migration %d: %v", m.version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			log.Fatalf("Failed to begin transaction: %v", err)
		}
		if _, err := tx.Exec(string(schema)); err != nil {
			_ = tx.Rollback()
			log.Fatalf("Migration %d failed: %v", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			log.Fatalf("Failed to record migration %d: %v", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			log.Fatalf("Failed to commit migration %d: %v", m.version, err)
		}
		applied++
	}

	if applied == 0 {
		fmt.Println("Database is up to date")
		return
	}
	fmt.Printf("Applied %d migration(s)\n", applied)
}
