package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/djlord-it/formrelay/internal/domain"
)

// Record is the row written for one submission.
type Record struct {
	SubmissionID string
	FormID       string
	SubmittedAt  time.Time
	Data         []byte
	Metadata     []byte
}

// RecordWriter writes one record into a named table.
type RecordWriter interface {
	WriteRecord(ctx context.Context, table string, rec Record) error
}

// RecordStore writes each submission as a row into the configured table.
type RecordStore struct {
	writer RecordWriter
}

func NewRecordStore(writer RecordWriter) *RecordStore {
	return &RecordStore{writer: writer}
}

func (r *RecordStore) Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
	s, err := settingsAs[domain.RecordStoreSettings](domain.ChannelRecordStore, settings)
	if err != nil {
		return err
	}

	rec, err := recordFor(sub)
	if err != nil {
		return domain.NewChannelError(domain.ChannelRecordStore, domain.KindWriteFailed, err)
	}
	if err := r.writer.WriteRecord(ctx, s.TableName, rec); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewChannelError(domain.ChannelRecordStore, domain.KindTimeout, err)
		}
		return domain.NewChannelError(domain.ChannelRecordStore, domain.KindWriteFailed, err)
	}
	return nil
}

func recordFor(sub domain.Submission) (Record, error) {
	data, err := json.Marshal(sub.Data)
	if err != nil {
		return Record{}, fmt.Errorf("marshal data: %w", err)
	}
	meta := []byte("{}")
	if sub.Metadata != nil {
		if meta, err = json.Marshal(sub.Metadata); err != nil {
			return Record{}, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	return Record{
		SubmissionID: sub.SubmissionID,
		FormID:       sub.FormID,
		SubmittedAt:  sub.Timestamp.UTC(),
		Data:         data,
		Metadata:     meta,
	}, nil
}

// GormRecordWriter inserts records through gorm. Target tables are expected
// to have the columns submission_id, form_id, submitted_at, data and metadata.
type GormRecordWriter struct {
	db *gorm.DB
}

func NewGormRecordWriter(db *gorm.DB) *GormRecordWriter {
	return &GormRecordWriter{db: db}
}

// OpenRecordStore connects gorm to the PostgreSQL database at dsn.
func OpenRecordStore(dsn string) (*gorm.DB, error) {
	return OpenRecordStoreWith(postgres.Open(dsn))
}

// OpenRecordStoreWith connects gorm through an explicit dialector.
func OpenRecordStoreWith(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	return db, nil
}

func (w *GormRecordWriter) WriteRecord(ctx context.Context, table string, rec Record) error {
	err := w.db.WithContext(ctx).Table(table).Create(map[string]any{
		"submission_id": rec.SubmissionID,
		"form_id":       rec.FormID,
		"submitted_at":  rec.SubmittedAt,
		"data":          string(rec.Data),
		"metadata":      string(rec.Metadata),
	}).Error
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}
