package migrations

import (
	"gorm.io/gorm"
)

// Migration001JobRecords 创建任务历史表
type Migration001JobRecords struct{}

func (m *Migration001JobRecords) Version() string {
	return "001_job_records"
}

func (m *Migration001JobRecords) Description() string {
	return "Create job_records table for request history"
}

func (m *Migration001JobRecords) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS job_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id VARCHAR(64) NOT NULL UNIQUE,
			status VARCHAR(32) NOT NULL,
			stage VARCHAR(32) NOT NULL,
			file_name VARCHAR(512),
			file_size INTEGER,
			language VARCHAR(16),
			separate_vocals BOOLEAN,
			separation_used BOOLEAN,
			segment_count INTEGER,
			error_kind VARCHAR(32),
			error TEXT,
			details JSON,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_job_records_created_at ON job_records(created_at)`).Error
}

func (m *Migration001JobRecords) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS job_records`).Error
}
