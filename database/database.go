// Package database stores request history in SQLite.
package database

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/internal/session"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type RowID = int64

// Request is a row of the request table.
type Request struct {
	Seq          RowID  `gorm:"primaryKey;autoIncrement"`
	RequestID    string `gorm:"uniqueIndex"`
	Message      string
	CanonicalURL string
	Filename     string
	Bytes        int
	Stage        string
	FailedStage  string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (Request) TableName() string {
	return "request"
}

func fromRecord(r *session.RequestRecord) Request {
	return Request{
		RequestID:    r.ID.String(),
		Message:      r.Message,
		CanonicalURL: r.CanonicalURL,
		Filename:     r.Filename,
		Bytes:        r.Bytes,
		Stage:        string(r.Stage),
		FailedStage:  string(r.FailedStage),
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

func (r Request) Record() session.RequestRecord {
	return session.RequestRecord{
		ID:           ninegag2telegram.RequestID(r.RequestID),
		Message:      r.Message,
		CanonicalURL: r.CanonicalURL,
		Filename:     r.Filename,
		Bytes:        r.Bytes,
		Stage:        ninegag2telegram.Stage(r.Stage),
		FailedStage:  ninegag2telegram.Stage(r.FailedStage),
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

type Database struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewDatabase opens (creating if needed) the SQLite file at path and brings its schema up to date.
func NewDatabase(path string, logger *zap.Logger) (*Database, error) {
	gormLogger := zapgorm2.New(logger)
	gormLogger.SetAsDefault()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	d := &Database{db: db, log: logger.Sugar().Named("database")}
	if err := d.Migrate(); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return d, nil
}

func (d *Database) Migrate() error {
	d.log.Debug("running database migrations")
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	// Not closing m: that would close sqlDB too
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch {
	case err == nil:
		d.log.Info("database migration complete")
	case errors.Is(err, migrate.ErrNoChange):
		d.log.Debug("no database migration required")
	default:
		return err
	}
	return nil
}

// Version returns the applied schema version.
func (d *Database) Version() (uint, error) {
	var version uint
	err := d.db.Raw(`SELECT version FROM schema_migrations LIMIT 1`).Scan(&version).Error
	return version, err
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) ListRequests() ([]session.RequestRecord, error) {
	var rows []Request
	if err := d.db.Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]session.RequestRecord, len(rows))
	for i, row := range rows {
		records[i] = row.Record()
	}
	return records, nil
}

// ListFailedRequests returns the requests that failed at stage, most recent first.
func (d *Database) ListFailedRequests(stage ninegag2telegram.Stage) ([]session.RequestRecord, error) {
	var rows []Request
	err := d.db.Where("stage = ? AND failed_stage = ?", ninegag2telegram.StageFailed, stage).Order("seq DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]session.RequestRecord, len(rows))
	for i, row := range rows {
		records[i] = row.Record()
	}
	return records, nil
}

func (d *Database) WriteRequest(record *session.RequestRecord) error {
	row := fromRecord(record)
	return d.db.Create(&row).Error
}

var _ session.Database = &Database{}
