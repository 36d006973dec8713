// Package db provides the SQLite-backed record store for scans and lifecycle
// events, including schema migrations and retention maintenance.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register pure-Go SQLite driver for database/sql

	"github.com/mescon/desup/internal/logger"
)

// MaxRetries is the number of times to retry a database operation on SQLITE_BUSY
const MaxRetries = 5

// RetryDelay is the base delay between retries (increases exponentially)
const RetryDelay = 100 * time.Millisecond

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Repository provides database access methods for the application.
type Repository struct {
	DB *sql.DB
}

// NewRepository creates a new Repository with the database at the given path.
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists with restricted permissions (owner only)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite with WAL mode
	// WAL mode allows multiple concurrent readers + 1 writer
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	repo := &Repository{DB: db}
	if err := repo.runMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Run integrity check on startup
	if err := repo.checkIntegrity(); err != nil {
		logger.Errorf("Warning: database integrity check failed: %v", err)
		// Non-fatal but logged - database may need attention
	}

	return repo, nil
}

// configureSQLite sets optimal SQLite pragmas for reliability and performance
func configureSQLite(db *sql.DB) error {
	// Critical pragmas that must succeed for proper database operation
	criticalPragmas := []string{
		// WAL mode for better concurrency and crash recovery
		"PRAGMA journal_mode=WAL",
		// Enable foreign key constraints
		"PRAGMA foreign_keys=ON",
		// Busy timeout of 30 seconds to handle concurrent access
		"PRAGMA busy_timeout=30000",
	}

	for _, pragma := range criticalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set critical pragma %s: %w", pragma, err)
		}
	}

	// Non-critical pragmas - log failures but continue
	optionalPragmas := []string{
		// Synchronous FULL ensures durability even on power loss during checkpoint
		"PRAGMA synchronous=FULL",
		// Store temp tables in memory for performance
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range optionalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debugf("Failed to set optional pragma %s: %v", pragma, err)
		}
	}

	return nil
}

// checkIntegrity runs a quick integrity check on the database
func (r *Repository) checkIntegrity() error {
	var result string
	err := r.DB.QueryRow("PRAGMA quick_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.DB.Close()
}

// GracefulClose runs a WAL checkpoint before closing so the main database
// file is complete on its own.
func (r *Repository) GracefulClose() error {
	if _, err := r.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Warnf("WAL checkpoint on close failed: %v", err)
	}
	return r.DB.Close()
}

// MaintenanceResult reports what a maintenance run pruned.
type MaintenanceResult struct {
	ScansPruned  int64
	EventsPruned int64
}

// RunMaintenance prunes resolved scan records and events older than the
// retention window, then compacts the database. retentionDays <= 0 disables
// pruning but still runs compaction.
func (r *Repository) RunMaintenance(retentionDays int) (MaintenanceResult, error) {
	logger.Infof("Starting database maintenance...")
	var result MaintenanceResult

	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC()

		res, err := ExecWithRetry(r.DB,
			"DELETE FROM scans WHERE status != 'active' AND scan_date < ?", cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to prune old scans: %w", err)
		}
		result.ScansPruned, _ = res.RowsAffected()

		res, err = ExecWithRetry(r.DB, "DELETE FROM events WHERE created_at < ?", cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to prune old events: %w", err)
		}
		result.EventsPruned, _ = res.RowsAffected()

		if result.ScansPruned > 0 || result.EventsPruned > 0 {
			logger.Infof("Pruned %d old scans and %d old events", result.ScansPruned, result.EventsPruned)
		}
	}

	maintenanceOps := []struct {
		name string
		sql  string
	}{
		{"database analysis", "ANALYZE"},
		{"WAL checkpoint", "PRAGMA wal_checkpoint(TRUNCATE)"},
	}
	for _, op := range maintenanceOps {
		if _, err := r.DB.Exec(op.sql); err != nil {
			logger.Warnf("Maintenance step %s failed: %v", op.name, err)
		}
	}

	logger.Infof("Database maintenance completed")
	return result, nil
}

// createMigrationsTable ensures the schema_migrations bookkeeping table exists.
func (r *Repository) createMigrationsTable() error {
	_, err := r.DB.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentMigrationVersion returns the highest applied migration version.
func (r *Repository) getCurrentMigrationVersion() (int, error) {
	var version sql.NullInt64
	err := r.DB.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// applyMigration executes a single migration file inside a transaction.
func (r *Repository) applyMigration(file string, version int) error {
	content, err := migrationsFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", file, err)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to apply migration %s: %w", file, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", file, err)
	}

	return tx.Commit()
}

// runMigrations applies any pending migrations in version order.
func (r *Repository) runMigrations() error {
	if err := r.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := r.getCurrentMigrationVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		// Migration files are named NNN_description.sql
		versionStr := strings.SplitN(file, "_", 2)[0]
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return fmt.Errorf("invalid migration filename %s: %w", file, err)
		}
		if version <= current {
			continue
		}

		logger.Infof("Applying migration %s...", file)
		if err := r.applyMigration("migrations/"+file, version); err != nil {
			return err
		}
	}

	return nil
}
