// Package gormledger is an idempotency.Ledger for services whose
// projections are written through gorm.
//
// It uses the "processed_events" table of the postgres migrations, so that
// projections can claim events and apply side effects in one gorm transaction.
package gormledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/get-eventually/eventledger/idempotency"
)

type processedEvent struct {
	ConsumerName string    `gorm:"column:consumer_name;primaryKey"`
	EventID      string    `gorm:"column:event_id;primaryKey"`
	TenantID     string    `gorm:"column:tenant_id;primaryKey"`
	ProcessedAt  time.Time `gorm:"column:processed_at;index"`
}

func (processedEvent) TableName() string { return "processed_events" }

var _ idempotency.Ledger = new(Ledger)

// Ledger is an idempotency.Ledger on a gorm database.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Ledger on the provided database.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Open connects to the PostgreSQL database at dsn, and returns a Ledger on it.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	if dsn == "" {
		return nil, errors.New("gormledger.Open: dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gormledger.Open: failed to open database, %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gormledger.Open: failed to resolve sql handle, %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("gormledger.Open: failed to ping database, %w", err)
	}

	return New(db), nil
}

// Migrate creates the ledger table when the postgres migrations are not used.
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&processedEvent{}); err != nil {
		return fmt.Errorf("gormledger.Ledger.Migrate: %w", err)
	}

	return nil
}

// DB returns the database the Ledger writes to.
func (l *Ledger) DB() *gorm.DB { return l.db }

// Close closes the underlying database connections.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func (l *Ledger) record(key idempotency.Key) *processedEvent {
	return &processedEvent{
		ConsumerName: key.Consumer,
		EventID:      key.EventID,
		TenantID:     key.TenantID,
		ProcessedAt:  l.now().UTC(),
	}
}

// claim inserts the record, returning false if it already exists.
func (l *Ledger) claim(tx *gorm.DB, key idempotency.Key) (bool, error) {
	create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(l.record(key))
	if create.Error != nil {
		return false, create.Error
	}

	return create.RowsAffected > 0, nil
}

// HasProcessed implements idempotency.Ledger.
func (l *Ledger) HasProcessed(ctx context.Context, consumer, eventID, tenantID string) (bool, error) {
	var count int64

	if err := l.db.WithContext(ctx).
		Model(&processedEvent{}).
		Where("consumer_name = ? AND event_id = ? AND tenant_id = ?", consumer, eventID, tenantID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("gormledger.Ledger.HasProcessed: failed to query ledger, %w", err)
	}

	return count > 0, nil
}

// MarkProcessed implements idempotency.Ledger.
func (l *Ledger) MarkProcessed(ctx context.Context, consumer, eventID, tenantID string) error {
	key := idempotency.Key{Consumer: consumer, EventID: eventID, TenantID: tenantID}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("gormledger.Ledger.MarkProcessed: %w", err)
	}

	if _, err := l.claim(l.db.WithContext(ctx), key); err != nil {
		return fmt.Errorf("gormledger.Ledger.MarkProcessed: failed to insert record, %w", err)
	}

	return nil
}

// RunOnce claims the key and runs apply in the same transaction, returning
// false without calling apply when the event was already processed.
// A failing apply rolls the claim back.
func (l *Ledger) RunOnce(ctx context.Context, key idempotency.Key, apply func(tx *gorm.DB) error) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, fmt.Errorf("gormledger.Ledger.RunOnce: %w", err)
	}

	var applied bool

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := l.claim(tx, key)
		if err != nil {
			return fmt.Errorf("failed to claim event, %w", err)
		}

		if !claimed {
			return nil
		}

		if err := apply(tx); err != nil {
			return err
		}

		applied = true

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("gormledger.Ledger.RunOnce: %w", err)
	}

	return applied, nil
}

// Prune deletes the records processed before the specified time.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := l.db.WithContext(ctx).Where("processed_at < ?", before.UTC()).Delete(&processedEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("gormledger.Ledger.Prune: failed to delete records, %w", result.Error)
	}

	return result.RowsAffected, nil
}
