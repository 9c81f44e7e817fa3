package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"subtitle-server-go/internal/domain/eventbus"
	"subtitle-server-go/internal/platform/storage"
)

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite 基于 gorm 的 SQLite 存储；db 需已完成迁移
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db}, nil
}

func toRow(rec *Record) (*storage.JobRecord, error) {
	var details datatypes.JSON
	if len(rec.Details) > 0 {
		raw, err := sonic.Marshal(rec.Details)
		if err != nil {
			return nil, err
		}
		details = datatypes.JSON(raw)
	}
	return &storage.JobRecord{
		JobID:          rec.ID,
		Status:         string(rec.Status),
		Stage:          string(rec.Stage),
		FileName:       rec.FileName,
		FileSize:       rec.FileSize,
		Language:       rec.Language,
		SeparateVocals: rec.SeparateVocals,
		SeparationUsed: rec.SeparationUsed,
		SegmentCount:   rec.SegmentCount,
		ErrorKind:      rec.ErrorKind,
		Error:          rec.Error,
		Details:        details,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

func fromRow(row *storage.JobRecord) *Record {
	rec := &Record{
		ID:             row.JobID,
		Status:         Status(row.Status),
		Stage:          eventbus.Stage(row.Stage),
		FileName:       row.FileName,
		FileSize:       row.FileSize,
		Language:       row.Language,
		SeparateVocals: row.SeparateVocals,
		SeparationUsed: row.SeparationUsed,
		SegmentCount:   row.SegmentCount,
		ErrorKind:      row.ErrorKind,
		Error:          row.Error,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if len(row.Details) > 0 {
		var details map[string]interface{}
		if err := sonic.Unmarshal(row.Details, &details); err == nil {
			rec.Details = details
		}
	}
	return rec
}

func (s *sqliteStore) Save(ctx context.Context, rec *Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*Record, error) {
	var row storage.JobRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row), nil
}

func (s *sqliteStore) List(ctx context.Context, limit int) ([]*Record, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []storage.JobRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

func (s *sqliteStore) Cleanup(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&storage.JobRecord{})
	return int(res.RowsAffected), res.Error
}

func (s *sqliteStore) Close(context.Context) error {
	return storage.Close(s.db)
}
