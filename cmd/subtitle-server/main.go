// @title 智能字幕生成服务 API 文档
// @version 1.0
// @description 上传音视频，可选人声分离，生成带时间轴的 SRT 字幕
// @host localhost:8000
// @BasePath /api
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// version 在构建时通过 -ldflags 注入
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
