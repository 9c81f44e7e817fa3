package main

import (
	"github.com/spf13/cobra"

	"subtitle-server-go/internal/bootstrap"
	"subtitle-server-go/internal/platform/config"
)

type commandContext struct {
	configPath *string
	noDotEnv   *bool
}

func (c *commandContext) options() bootstrap.Options {
	return bootstrap.Options{
		ConfigPath:    *c.configPath,
		Version:       version,
		DisableDotEnv: *c.noDotEnv,
	}
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	result, err := config.NewLoader().
		WithDotEnv(!*c.noDotEnv).
		WithPath(*c.configPath).
		Load()
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var noDotEnv bool
	ctx := &commandContext{configPath: &configFlag, noDotEnv: &noDotEnv}

	serveCmd := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "subtitle-server",
		Short:         "智能字幕生成服务",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// 不带子命令时直接启动服务
		RunE: serveCmd.RunE,
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", config.DefaultPath, "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&noDotEnv, "no-dotenv", false, "Skip loading .env")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd
}
