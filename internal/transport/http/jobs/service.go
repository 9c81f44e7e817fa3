// Package jobs exposes job history and live stage events.
package jobs

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	domainjobs "subtitle-server-go/internal/domain/jobs"
	apperrors "subtitle-server-go/internal/platform/errors"
	"subtitle-server-go/internal/platform/logging"
	"subtitle-server-go/internal/platform/observability"
	httptransport "subtitle-server-go/internal/transport/http"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	writeTimeout = 10 * time.Second
)

// Message websocket 推送的消息
type Message struct {
	Type   string             `json:"type"`
	Record *domainjobs.Record `json:"record,omitempty"`
	Event  interface{}        `json:"event,omitempty"`
}

// Service 任务历史接口
type Service struct {
	logger   *logging.Logger
	store    domainjobs.Store
	tracker  *domainjobs.Tracker
	upgrader websocket.Upgrader
}

// NewService 创建任务服务
func NewService(store domainjobs.Store, tracker *domainjobs.Tracker, logger *logging.Logger) (*Service, error) {
	if store == nil || tracker == nil {
		return nil, apperrors.New(apperrors.KindConfig, "jobs.new", "store and tracker are required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		logger:  logger,
		store:   store,
		tracker: tracker,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}, nil
}

// Register 注册任务路由
func (s *Service) Register(_ context.Context, router *gin.RouterGroup) error {
	router.GET("/jobs", s.handleList)
	router.GET("/jobs/:id", s.handleGet)
	router.GET("/jobs/:id/events", s.handleEvents)

	s.logger.InfoTag("HTTP", "任务服务路由注册完成")
	return nil
}

// handleList 列出最近的任务
// @Summary 列出最近的任务
// @Tags Jobs
// @Produce json
// @Param limit query int false "返回条数，默认 50"
// @Success 200 {object} httptransport.APIResponse
// @Router /api/jobs [get]
func (s *Service) handleList(c *gin.Context) {
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httptransport.RespondError(c, http.StatusUnprocessableEntity, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxLimit)
	}

	records, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.ErrorTag("任务", "查询任务列表失败: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to list jobs", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, records, "")
}

// handleGet 查询单个任务
// @Summary 查询任务
// @Tags Jobs
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} httptransport.APIResponse
// @Failure 404 {object} httptransport.APIResponse
// @Router /api/jobs/{id} [get]
func (s *Service) handleGet(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domainjobs.ErrNotFound) {
		httptransport.RespondError(c, http.StatusNotFound, "job not found", nil)
		return
	}
	if err != nil {
		s.logger.ErrorTag("任务", "查询任务失败: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to load job", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, rec, "")
}

// handleEvents 通过 websocket 推送任务阶段事件，任务结束后关闭连接。
// 客户端可在上传前用自选的 X-Job-Id 订阅。
func (s *Service) handleEvents(c *gin.Context) {
	jobID := c.Param("id")

	// 先订阅再读快照，避免漏掉两者之间的事件
	events, cancel := s.tracker.Watch(jobID)
	defer cancel()

	var snapshot *domainjobs.Record
	rec, err := s.store.Get(c.Request.Context(), jobID)
	switch {
	case err == nil:
		snapshot = rec
	case !errors.Is(err, domainjobs.ErrNotFound):
		s.logger.WarnTag("任务", "读取任务快照失败 %s: %v", jobID, err)
	}

	spanCtx, spanEnd := observability.StartSpan(c.Request.Context(), "transport.websocket", "job_events")
	var spanErr error
	defer func() { spanEnd(spanErr) }()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		spanErr = err
		s.logger.WarnTag("任务", "websocket 握手失败: %v", err)
		return
	}
	defer conn.Close()
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, map[string]string{"component": "jobs"})

	// 读循环只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snapshot != nil {
		if err := s.write(conn, Message{Type: "snapshot", Record: snapshot}); err != nil {
			spanErr = err
			return
		}
		if snapshot.Status != domainjobs.StatusRunning {
			s.closeNormal(conn)
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				s.closeNormal(conn)
				return
			}
			if err := s.write(conn, Message{Type: "event", Event: ev}); err != nil {
				spanErr = err
				return
			}
		}
	}
}

func (s *Service) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (s *Service) closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(time.Second))
}
