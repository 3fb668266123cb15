// Package reports implements cached retrieval of a report by id or the
// latest report, backed by the report store port and wrapped in
// single-flight via internal/cache. GORM+MySQL grounds the store, adapted
// from ChoSanghyuk-blackholedex/internal/db/transaction_recorder.go's
// MySQLRecorder pattern.
package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
)

// Report is an opaque record: only id, created_at, and an opaque payload
// matter to the core.
type Report struct {
	ID            uint64    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	OpaquePayload []byte    `json:"opaque_payload"`
}

// Store is the report store port: load_by_id / load_latest.
type Store interface {
	LoadByID(ctx context.Context, id uint64) (Report, error)
	LoadLatest(ctx context.Context) (Report, error)
}

// ErrNoStoreConfigured is returned by a Store stand-in used when no
// report database DSN is configured, so report endpoints fail cleanly
// with NotFound rather than the process refusing to start.
var ErrNoStoreConfigured = apperr.New(apperr.KindNotFound, "no report store configured")

// record is the GORM model backing Store.
type record struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index"`
	OpaquePayload []byte    `gorm:"type:longblob"`
}

func (record) TableName() string { return "reports" }

// MySQLStore implements Store over GORM+MySQL.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore opens a connection and migrates the reports table. dsn
// format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local".
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate reports schema: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreWithDB wraps an already-open GORM handle, migrating the
// reports table.
func NewMySQLStoreWithDB(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate reports schema: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) LoadByID(ctx context.Context, id uint64) (Report, error) {
	var rec record
	result := s.db.WithContext(ctx).First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Report{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("report %d not found", id))
		}
		return Report{}, apperr.Wrap(apperr.KindInternal, "load report by id", result.Error)
	}
	return toReport(rec), nil
}

func (s *MySQLStore) LoadLatest(ctx context.Context) (Report, error) {
	var rec record
	result := s.db.WithContext(ctx).Order("created_at DESC").First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Report{}, apperr.New(apperr.KindNotFound, "no reports exist")
		}
		return Report{}, apperr.Wrap(apperr.KindInternal, "load latest report", result.Error)
	}
	return toReport(rec), nil
}

func toReport(rec record) Report {
	return Report{ID: rec.ID, CreatedAt: rec.CreatedAt, OpaquePayload: rec.OpaquePayload}
}
