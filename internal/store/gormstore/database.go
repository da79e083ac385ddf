package gormstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/skippy/island-grown/pkg/benefits"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	sqliteMemoryPath  = ":memory:"
	defaultSQLiteFile = "islandgrown.db"
)

// Location is where the journal lives.
type Location struct {
	Driver string
	// Source is handed to the driver: the postgres URL or the sqlite file path.
	Source string
}

// InMemory reports whether the journal disappears with the process.
func (location Location) InMemory() bool {
	return location.Driver == DriverSQLite && location.Source == sqliteMemoryPath
}

// ParseLocation maps a journal database URL onto a driver. postgres:// and postgresql:// URLs
// go to postgres. sqlite:// URLs and scheme-less paths are sqlite files, created under their
// parent directory; an empty sqlite path means islandgrown.db.
func ParseLocation(databaseURL string) (Location, error) {
	raw := strings.TrimSpace(databaseURL)
	scheme, _, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		return sqliteLocation(raw)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return Location{Driver: DriverPostgres, Source: raw}, nil
	case DriverSQLite:
		parsed, err := url.Parse(raw)
		if err != nil {
			return Location{}, fmt.Errorf("parse journal url: %w", err)
		}
		return sqliteLocation(parsed.Host + parsed.Path)
	default:
		return Location{}, fmt.Errorf("%w: journal database scheme %q", benefits.ErrInvalidServiceConfig, scheme)
	}
}

func sqliteLocation(path string) (Location, error) {
	switch path {
	case sqliteMemoryPath:
		return Location{Driver: DriverSQLite, Source: path}, nil
	case "", "/":
		path = defaultSQLiteFile
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Location{}, fmt.Errorf("create journal directory: %w", err)
	}
	return Location{Driver: DriverSQLite, Source: path}, nil
}

// Open connects to the journal at databaseURL. The returned cleanup closes the pool.
func Open(ctx context.Context, databaseURL string) (*gorm.DB, func() error, string, error) {
	location, err := ParseLocation(databaseURL)
	if err != nil {
		return nil, nil, "", err
	}

	dialector := sqlite.Open(location.Source)
	if location.Driver == DriverPostgres {
		dialector = postgres.Open(location.Source)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true, Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, nil, "", fmt.Errorf("open %s journal: %w", location.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if location.InMemory() {
		// each pooled connection would see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, location.Driver, nil
}

// Migrate creates or updates the journal tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&NotificationClaim{}, &SweepRun{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
