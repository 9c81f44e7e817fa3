package storage

import (
	"time"

	"gorm.io/datatypes"
)

// JobRecord 任务历史记录，仅保存元数据，不保存字幕内容
type JobRecord struct {
	ID             uint   `gorm:"primaryKey"`
	JobID          string `gorm:"uniqueIndex;size:64;not null"`
	Status         string `gorm:"size:32;not null"`
	Stage          string `gorm:"size:32;not null"`
	FileName       string `gorm:"size:512"`
	FileSize       int64
	Language       string `gorm:"size:16"`
	SeparateVocals bool
	SeparationUsed bool
	SegmentCount   int
	ErrorKind      string `gorm:"size:32"`
	Error          string `gorm:"type:text"`
	Details        datatypes.JSON
	CreatedAt      time.Time `gorm:"index;not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (JobRecord) TableName() string { return "job_records" }
