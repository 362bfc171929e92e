// Package data owns the per-account schedule database: opening it, walking
// its schema to the version this build understands, and the config table.
package data

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
)

// DatabaseVersion is the schema version this build reads and writes.
const DatabaseVersion = 3

const (
	KeyDatabaseVersion = "database_version"
	KeyCurrentTerm     = "current_term"
	// written by old releases before the term table existed
	KeyStartOfTerm = "start_of_term"
)

var ErrMigration = errors.New("database migration failed")

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	DB     *gorm.DB
	path   string
	logger *log.Entry
}

type options struct {
	version int
	logger  *log.Entry
}

type Option func(*options)

// WithVersion walks the schema to v instead of DatabaseVersion.
func WithVersion(v int) Option {
	return func(o *options) { o.version = v }
}

func WithLogger(logger *log.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// Open opens or creates the database at path and migrates it.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{version: DatabaseVersion}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "data")
	}
	logger := o.logger.WithField("db", path)
	if o.version < 1 || o.version > DatabaseVersion {
		return nil, fmt.Errorf("%w: no schema version %d", ErrMigration, o.version)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := walk(path, o.version, logger); err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	return &Store{DB: gdb, path: path, logger: logger}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// walk moves the schema one version at a time from whatever the file says
// it is to target, recording each step in the config table.
func walk(path string, target int, logger *log.Entry) error {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	stored, err := storedVersion(sqlDB)
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("%w: reading version: %v", ErrMigration, err)
	}
	if stored == target {
		return sqlDB.Close()
	}
	if stored > DatabaseVersion {
		sqlDB.Close()
		return fmt.Errorf("%w: database is version %d, this build knows up to %d", ErrMigration, stored, DatabaseVersion)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		sqlDB.Close()
		return err
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		sqlDB.Close()
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		sqlDB.Close()
		return err
	}
	defer m.Close()

	if stored > 0 {
		// files written before migrate kept their version only in config
		if err := m.Force(stored); err != nil {
			return fmt.Errorf("%w: %v", ErrMigration, err)
		}
	}

	step := 1
	if target < stored {
		step = -1
	}
	for v := stored; v != target; v += step {
		if err := m.Steps(step); err != nil {
			return fmt.Errorf("%w: %d to %d: %v", ErrMigration, v, v+step, err)
		}
		if err := setVersion(sqlDB, v+step); err != nil {
			return fmt.Errorf("%w: recording version %d: %v", ErrMigration, v+step, err)
		}
		logger.WithFields(log.Fields{"from": v, "to": v + step}).Info("migrated schedule database")
	}
	return nil
}

func storedVersion(sqlDB *sql.DB) (int, error) {
	var n int
	err := sqlDB.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'config'`).Scan(&n)
	if err != nil || n == 0 {
		return 0, err
	}
	var raw string
	err = sqlDB.QueryRow(`SELECT "value" FROM "config" WHERE "key" = ?`, KeyDatabaseVersion).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		// the tables exist, the first release never wrote a version
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

func setVersion(sqlDB *sql.DB, v int) error {
	res, err := sqlDB.Exec(`UPDATE "config" SET "value" = ? WHERE "key" = ?`, strconv.Itoa(v), KeyDatabaseVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = sqlDB.Exec(`INSERT INTO "config" ("key", "value") VALUES (?, ?)`, KeyDatabaseVersion, strconv.Itoa(v))
	return err
}

// Version reads the schema version recorded in config.
func (s *Store) Version(ctx context.Context) (int, error) {
	raw, ok, err := s.GetConfig(ctx, KeyDatabaseVersion)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.Atoi(raw)
}

// GetConfig returns the value under key; ok is false when it is unset.
func (s *Store) GetConfig(ctx context.Context, key string) (value string, ok bool, err error) {
	var rows []db.Config
	if err := s.DB.WithContext(ctx).Where(map[string]any{"key": key}).Limit(1).Find(&rows).Error; err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Value, true, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	return SetConfig(s.DB.WithContext(ctx), key, value)
}

// SetConfig upserts key inside tx.
func SetConfig(tx *gorm.DB, key, value string) error {
	res := tx.Model(&db.Config{}).Where(map[string]any{"key": key}).Update("value", value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return tx.Create(&db.Config{Key: key, Value: value}).Error
}
