package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"subtitle-server-go/internal/bootstrap"
	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/pipeline"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var output string
	var language string
	var separate string

	cmd := &cobra.Command{
		Use:   "generate <media>",
		Short: "Generate an SRT file for a local audio or video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(input)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", input)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", input)
			}
			separateVocals, err := media.ParseOptionalBool("separate-vocals", separate)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(filepath.Dir(input), pipeline.SubtitleName(input))
			}

			app, err := bootstrap.New(cmd.Context(), ctx.options())
			if err != nil {
				return err
			}
			defer app.Close()

			file, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open media: %w", err)
			}
			defer file.Close()

			return app.Pipeline().Run(cmd.Context(), pipeline.Request{
				FileName:       filepath.Base(input),
				Body:           file,
				Language:       language,
				SeparateVocals: separateVocals,
			}, func(r *pipeline.Result) error {
				if err := os.WriteFile(output, []byte(r.SRT), 0o644); err != nil {
					return fmt.Errorf("write subtitle: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), summaryLine(output, r))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output SRT path (defaults to <media>.srt next to the input)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language hint, empty for auto detection")
	cmd.Flags().StringVar(&separate, "separate-vocals", "", "Override vocal separation (true/false)")
	return cmd
}

// summaryLine 输出检测到的语言，而不是请求中的语言提示
func summaryLine(output string, r *pipeline.Result) string {
	segments, language := 0, ""
	if r.Transcript != nil {
		segments, language = len(r.Transcript.Segments), r.Transcript.Language
	}
	return fmt.Sprintf("%s: %d segments, language=%s, separation=%t, %.1fs",
		output, segments, language, r.SeparationUsed, r.ProcessingTime.Seconds())
}
