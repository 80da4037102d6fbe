package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/haolipeng/runpmd/pkg/control"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 错误代码常量
const (
	ErrCodeInternalServerError = http.StatusInternalServerError // 服务器内部错误
	ErrCodeBadRequest          = http.StatusBadRequest          // 请求参数错误
	ErrCodeNotFound            = http.StatusNotFound            // 资源不存在
	ErrCodeRejected            = http.StatusUnprocessableEntity // 规则语法正确但无法下发
	ErrCodeUnavailable         = http.StatusServiceUnavailable  // 控制面已退出
)

// APIError 返回给客户端的错误
type APIError struct {
	Code    int    // HTTP 状态码
	Message string // 错误消息
	Err     error  // 原始错误
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func NewAPIError(code int, message string, err error) *APIError {
	return &APIError{Code: code, Message: message, Err: err}
}

func NewBadRequestError(message string, err error) *APIError {
	return NewAPIError(ErrCodeBadRequest, message, err)
}

func NewNotFoundError(message string) *APIError {
	return NewAPIError(ErrCodeNotFound, message, nil)
}

// NewCommandError 按命令错误的类别选择状态码
func NewCommandError(err error) *APIError {
	switch {
	case errors.Is(err, types.ErrUnknownKeyword),
		errors.Is(err, types.ErrInvalidArgument),
		errors.Is(err, types.ErrOutOfBounds):
		return NewAPIError(ErrCodeBadRequest, "命令解析失败", err)
	case errors.Is(err, types.ErrHardwareRejected):
		return NewAPIError(ErrCodeRejected, "规则下发失败", err)
	case errors.Is(err, control.ErrStopped):
		return NewAPIError(ErrCodeUnavailable, "控制面已退出", err)
	default:
		return NewAPIError(ErrCodeInternalServerError, "服务器内部错误", err)
	}
}

// HandleError 统一错误处理函数
func HandleError(c echo.Context, err error) error {
	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Request().URL.Path,
		"method": c.Request().Method,
	}).Warn("API 错误")

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		resp := Response{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		}
		if apiErr.Err != nil {
			resp.Data = map[string]string{
				"error_detail": apiErr.Err.Error(),
			}
		}
		return c.JSON(apiErr.Code, resp)
	}

	return c.JSON(http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: "服务器内部错误",
	})
}
