package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"subtitle-server-go/internal/bootstrap"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP subtitle service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] [INFO] [引导] 开始启动 subtitle-server %s...\n",
				time.Now().Format("2006-01-02 15:04:05.000"), version)
			return bootstrap.Run(cmd.Context(), ctx.options())
		},
	}
}
