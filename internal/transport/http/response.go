package httptransport

import (
	"github.com/gin-gonic/gin"

	apperrors "subtitle-server-go/internal/platform/errors"
)

// APIResponse 定义统一的接口返回结构体
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// ErrorData 失败响应中的 data 字段
type ErrorData struct {
	Kind  string `json:"kind"`
	JobID string `json:"job_id,omitempty"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	resp := APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondError 返回失败响应
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	resp := APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondAppError maps err to a status code and writes the failure envelope.
func RespondAppError(c *gin.Context, err error, jobID string) {
	status := StatusFromError(err)
	_ = c.Error(err)
	RespondError(c, status, ErrorMessage(err), ErrorData{
		Kind:  string(apperrors.KindOf(err)),
		JobID: jobID,
	})
}
