package jobs

import (
	"fmt"

	"gorm.io/gorm"

	"subtitle-server-go/internal/platform/config"
)

// Dependencies 某些驱动需要的外部句柄
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New 按 jobs.driver 创建存储
func New(cfg config.JobsConfig, deps Dependencies) (Store, error) {
	switch cfg.Driver {
	case "", config.JobStoreMemory:
		return NewMemory(), nil
	case config.JobStoreSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB)
	case config.JobStoreRedis:
		return NewRedis(cfg.Redis, cfg.Retention)
	default:
		return nil, fmt.Errorf("unsupported job store driver: %s", cfg.Driver)
	}
}
