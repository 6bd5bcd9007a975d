// Package sqliteutil contains the shared open-path check for the SQLite
// files the bridge keeps on disk.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PreflightResult reports the outcome of a SQLite preflight check.
type PreflightResult struct {
	Healthy     bool // No issues detected; safe to proceed.
	Quarantined bool // The database was renamed so a fresh file can be created.
	Elapsed     time.Duration
}

// Preflight runs a bounded WAL checkpoint and quick_check before the normal
// open path. A corrupt database is renamed to a timestamped .bad-* path so
// startup continues with a fresh file instead of stalling.
func Preflight(path, role string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	start := time.Now().UTC()
	res := PreflightResult{}

	if strings.TrimSpace(path) == "" {
		return res, errors.New("preflight: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("preflight: ensure dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return res, fmt.Errorf("preflight: open %s db: %w", role, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return res, fmt.Errorf("preflight: set busy_timeout %s: %w", role, err)
	}

	_, checkpointErr := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)")
	checkErr := quickCheck(ctx, db)
	res.Elapsed = time.Since(start)

	if checkpointErr == nil && checkErr == nil {
		res.Healthy = true
		return res, nil
	}
	// A timeout means the file is locked, not corrupt; do not quarantine.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("preflight: %s db timed out after %s", role, timeout)
	}

	_ = db.Close()
	badPath, quarantineErr := quarantine(path)
	if quarantineErr != nil {
		return res, fmt.Errorf("preflight: %s db quarantine failed: %w (checkpoint=%v, quick_check=%v)",
			role, quarantineErr, checkpointErr, checkErr)
	}
	res.Quarantined = true
	reason := checkErr
	if checkpointErr != nil {
		reason = checkpointErr
	}
	logf("%s db preflight failed (%v); quarantined to %s; elapsed=%s", role, reason, badPath, res.Elapsed)
	return res, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if scanErr := rows.Scan(&status); scanErr != nil {
			return scanErr
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

// quarantine renames the database and any sidecar files out of the way.
func quarantine(path string) (string, error) {
	ts := time.Now().UTC().Format("20060102T150405Z")
	badPath := fmt.Sprintf("%s.bad-%s", path, ts)

	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := os.Rename(p, p+".bad-"+ts); err != nil {
			return "", err
		}
	}
	return badPath, nil
}
