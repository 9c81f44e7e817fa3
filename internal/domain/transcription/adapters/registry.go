package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"subtitle-server-go/internal/domain/transcription"
	"subtitle-server-go/internal/domain/transcription/adapters/fasterwhisper"
	"subtitle-server-go/internal/domain/transcription/adapters/openai"
	"subtitle-server-go/internal/platform/config"
	"subtitle-server-go/internal/platform/logging"
	"subtitle-server-go/internal/platform/process"
)

// Deps 构造适配器所需的共享依赖
type Deps struct {
	Starter process.Starter
	Logger  *logging.Logger
}

// Factory 根据配置创建转录适配器
type Factory func(name string, cfg config.TranscriberConfig, deps Deps) (transcription.Transcriber, error)

// Registry 转录适配器注册器，按 type 查找工厂
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建注册器并注册内置适配器
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.registerBuiltin()
	return r
}

func (r *Registry) registerBuiltin() {
	r.factories[fasterwhisper.TypeName] = func(name string, cfg config.TranscriberConfig, deps Deps) (transcription.Transcriber, error) {
		return fasterwhisper.New(name, cfg, deps.Starter, deps.Logger), nil
	}
	r.factories[openai.TypeName] = func(name string, cfg config.TranscriberConfig, deps Deps) (transcription.Transcriber, error) {
		return openai.New(name, cfg, deps.Logger)
	}
}

// Register 注册自定义工厂
func (r *Registry) Register(typeName string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("transcriber factory '%s' already registered", typeName)
	}
	r.factories[typeName] = factory
	return nil
}

// Types 列出已注册的类型
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build 返回延迟加载的转录器；未知类型立即报错，模型加载推迟到首次使用
func (r *Registry) Build(name string, cfg config.TranscriberConfig, deps Deps) (*transcription.Lazy, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transcriber '%s': unknown type '%s'", name, cfg.Type)
	}
	return transcription.NewLazy(name, func(context.Context) (transcription.Transcriber, error) {
		return factory(name, cfg, deps)
	}), nil
}
