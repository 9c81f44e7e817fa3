package adapters

import (
	"fmt"

	"subtitle-server-go/internal/domain/separation"
	"subtitle-server-go/internal/domain/separation/adapters/audioseparator"
	"subtitle-server-go/internal/platform/config"
	"subtitle-server-go/internal/platform/logging"
	"subtitle-server-go/internal/platform/process"
)

// Build 根据配置创建人声分离适配器
func Build(name string, cfg config.SeparatorConfig, runner process.CmdRunner, logger *logging.Logger) (separation.Separator, error) {
	switch cfg.Type {
	case audioseparator.TypeName:
		return audioseparator.New(name, cfg, runner, logger), nil
	default:
		return nil, fmt.Errorf("separator '%s': unknown type '%s'", name, cfg.Type)
	}
}
