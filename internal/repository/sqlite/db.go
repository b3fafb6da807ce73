package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a sqlite database at the given path and ensures directories exist.
// path is either a filesystem path or a "file:" URI.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn, file, err := buildDSN(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// sqlite has a single writer; one connection keeps every operation serialized
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return db, nil
}

// buildDSN turns path into a file: URI carrying the busy timeout pragma and
// returns the filesystem path it points at. Plain paths are escaped, so '?'
// and '#' stay part of the file name.
func buildDSN(path string) (dsn, file string, err error) {
	var u *url.URL
	if strings.HasPrefix(path, "file:") {
		u, err = url.Parse(path)
		if err != nil {
			return "", "", fmt.Errorf("parse database uri: %w", err)
		}
		file = u.Path
		if u.Opaque != "" {
			if file, err = url.PathUnescape(u.Opaque); err != nil {
				return "", "", fmt.Errorf("parse database uri: %w", err)
			}
		}
	} else {
		u = &url.URL{Scheme: "file", Path: path}
		file = path
	}
	if u.Host == "" {
		u.OmitHost = true
	}

	// wait on a locked file instead of failing immediately
	q := u.Query()
	q.Add("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()

	return u.String(), file, nil
}

// Snapshot writes a consistent copy of the database to dest, which must not exist yet.
func Snapshot(ctx context.Context, db *sql.DB, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot target %s already exists", dest)
	}
	quoted := "'" + strings.ReplaceAll(dest, "'", "''") + "'"
	if _, err := db.ExecContext(ctx, `VACUUM INTO `+quoted); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}
