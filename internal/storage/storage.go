// Package storage opens the ledger and audit stores selected by
// configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sakif/docmeter/internal/config"
	"github.com/sakif/docmeter/internal/repository"
	"github.com/sakif/docmeter/internal/repository/postgres"
	"github.com/sakif/docmeter/internal/repository/redis"
	"github.com/sakif/docmeter/internal/repository/sqlite"
)

// Stores holds the opened backends. Usage is nil when auditing is off.
type Stores struct {
	Ledger repository.CreditRepository
	Usage  repository.UsageRepository

	closers []io.Closer
}

// Open connects the configured drivers. When ledger and audit use the same
// SQL driver they share one connection pool.
func Open(ctx context.Context, cfg config.Config) (*Stores, error) {
	s := &Stores{}

	var (
		sqliteDB *sqlite.DB
		pgDB     *postgres.DB
	)
	openSQLite := func() (*sqlite.DB, error) {
		if sqliteDB != nil {
			return sqliteDB, nil
		}
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, err
		}
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		sqliteDB = db
		s.closers = append(s.closers, db)
		return db, nil
	}
	openPostgres := func() (*postgres.DB, error) {
		if pgDB != nil {
			return pgDB, nil
		}
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		pgDB = db
		s.closers = append(s.closers, db)
		return db, nil
	}

	switch cfg.LedgerDriver {
	case config.DriverSQLite:
		db, err := openSQLite()
		if err != nil {
			return nil, s.fail(err)
		}
		s.Ledger = db
	case config.DriverPostgres:
		db, err := openPostgres()
		if err != nil {
			return nil, s.fail(err)
		}
		s.Ledger = db
	case config.DriverRedis:
		store, err := redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, s.fail(fmt.Errorf("connecting to redis: %w", err))
		}
		s.closers = append(s.closers, store)
		s.Ledger = store
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}

	switch cfg.AuditDriver {
	case config.DriverSQLite:
		db, err := openSQLite()
		if err != nil {
			return nil, s.fail(err)
		}
		s.Usage = db
	case config.DriverPostgres:
		db, err := openPostgres()
		if err != nil {
			return nil, s.fail(err)
		}
		s.Usage = db
	case config.DriverNone, "":
	default:
		return nil, s.fail(fmt.Errorf("unknown audit driver %q", cfg.AuditDriver))
	}

	return s, nil
}

// Close closes every opened backend once.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stores) fail(err error) error {
	if cerr := s.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// ensureDir creates the parent directory of a sqlite file path.
func ensureDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}
