package session

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sessionEvent is the GORM model backing the audit trail: one row per
// session/job lifecycle transition (group_created, job_created,
// capture_started, ...). Schema is owned by golang-migrate, not GORM
// AutoMigrate — see RunAuditMigrations.
type sessionEvent struct {
	ID             uint64 `gorm:"primaryKey;column:id"`
	SessionGroupID uint32 `gorm:"column:session_group_id"`
	JobDesc        uint16 `gorm:"column:job_desc"`
	Event          string `gorm:"column:event"`
	CreatedAt      time.Time
}

func (sessionEvent) TableName() string { return "session_events" }

// PostgresAuditor is the Auditor implementation backed by Postgres via
// GORM, following the teacher's GORMStore construction shape (dialector
// selection, silent query logging by default, pooled connections) minus
// the SQLite fallback this deployment has no use for.
type PostgresAuditor struct {
	db *gorm.DB
}

// NewPostgresAuditor opens a GORM connection against an already-migrated
// audit database (see RunAuditMigrations).
func NewPostgresAuditor(dsn string) (*PostgresAuditor, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("session: open audit database: %w", err)
	}

	return &PostgresAuditor{db: db}, nil
}

// RecordEvent appends one row to session_events.
func (a *PostgresAuditor) RecordEvent(ctx context.Context, sgid uint32, jobDesc uint16, event string) error {
	row := sessionEvent{
		SessionGroupID: sgid,
		JobDesc:        jobDesc,
		Event:          event,
		CreatedAt:      time.Now(),
	}
	return a.db.WithContext(ctx).Create(&row).Error
}

// RecentEvents returns the most recent events for sgid, newest first.
func (a *PostgresAuditor) RecentEvents(ctx context.Context, sgid uint32, limit int) ([]string, error) {
	var rows []sessionEvent
	err := a.db.WithContext(ctx).
		Where("session_group_id = ?", sgid).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	events := make([]string, len(rows))
	for i, r := range rows {
		events[i] = r.Event
	}
	return events, nil
}

// Close releases the underlying database/sql handle.
func (a *PostgresAuditor) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
