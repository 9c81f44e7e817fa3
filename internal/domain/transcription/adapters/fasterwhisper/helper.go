package fasterwhisper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"subtitle-server-go/internal/platform/process"
)

const (
	// 单行结果上限，长音频的词级时间戳可能很大
	maxLineBytes = 64 << 20
	stopGrace    = 5 * time.Second
)

var errHelperExited = errors.New("faster-whisper helper exited")

type helperRequest struct {
	ID             string `json:"id"`
	Audio          string `json:"audio"`
	Language       string `json:"language,omitempty"`
	BeamSize       int    `json:"beam_size"`
	VAD            bool   `json:"vad"`
	MinSilenceMS   int    `json:"min_silence_ms"`
	WordTimestamps bool   `json:"word_timestamps"`
	InitialPrompt  string `json:"initial_prompt,omitempty"`
}

type helperResponse struct {
	ID     string        `json:"id"`
	Ready  bool          `json:"ready"`
	OK     bool          `json:"ok"`
	Code   string        `json:"code"`
	Error  string        `json:"error"`
	Result *helperOutput `json:"result"`
}

// helper 常驻的 Python 进程，模型只在启动时加载一次
type helper struct {
	proc  process.Proc
	lines chan []byte
	done  chan struct{}
}

func newHelper(proc process.Proc) *helper {
	h := &helper{proc: proc, lines: make(chan []byte), done: make(chan struct{})}
	go h.readLoop()
	return h
}

func (h *helper) readLoop() {
	defer close(h.lines)
	scanner := bufio.NewScanner(h.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case h.lines <- line:
		case <-h.done:
			return
		}
	}
}

func (h *helper) send(data []byte) error {
	if _, err := h.proc.Stdin().Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write helper request: %w", err)
	}
	return nil
}

// next waits for one stdout line. When the helper exits the exit status is
// returned instead.
func (h *helper) next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case line, ok := <-h.lines:
		if !ok {
			if err := h.proc.Wait(); err != nil {
				return nil, err
			}
			return nil, errHelperExited
		}
		return line, nil
	}
}

// stop closes stdin so the helper exits on its own, killing it after a grace period.
func (h *helper) stop() error {
	close(h.done)
	_ = h.proc.Stdin().Close()

	exited := make(chan error, 1)
	go func() {
		// 排空 stdout，保证 Wait 能返回
		_, _ = io.Copy(io.Discard, h.proc.Stdout())
		exited <- h.proc.Wait()
	}()

	select {
	case <-exited:
		return nil
	case <-time.After(stopGrace):
		return h.proc.Kill()
	}
}

// kill terminates a helper whose state is unknown, e.g. after a cancelled request.
func (h *helper) kill() {
	close(h.done)
	_ = h.proc.Kill()
	go func() {
		_, _ = io.Copy(io.Discard, h.proc.Stdout())
		_ = h.proc.Wait()
	}()
}
