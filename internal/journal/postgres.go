package journal

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

type eventRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Type       string    `gorm:"size:64;not null;index"`
	Timestamp  int64     `gorm:"not null"`
	Payload    string    `gorm:"type:jsonb;not null"`
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (eventRecord) TableName() string { return "bar_events" }

type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects with a libpq style or URL dsn and migrates the table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres journal: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&eventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate postgres journal: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, ev types.BarEvent) error {
	rec := eventRecord{
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Payload:   payloadOf(ev),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var rows []eventRecord
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{
			ID:         r.ID,
			Type:       types.EventType(r.Type),
			Timestamp:  r.Timestamp,
			Payload:    []byte(r.Payload),
			RecordedAt: r.RecordedAt,
		})
	}
	return chronological(out), nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
