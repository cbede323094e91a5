package response

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Response API响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      0,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Error 返回错误响应，非 EngineError 按内部错误处理
func Error(c *gin.Context, err error) {
	var e *errors.EngineError
	if !stderrors.As(err, &e) {
		e = errors.Wrap(errors.ErrInternal, "内部错误", err)
	}
	c.JSON(e.HTTPStatus(), Response{
		Code:      int(e.Code),
		Message:   e.Message,
		Data:      e.Details,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// BadRequest 返回400错误
func BadRequest(c *gin.Context, details string) {
	Error(c, errors.NewWithDetails(errors.ErrInvalidParams, "参数错误", details))
}

// Unauthorized 返回401错误
func Unauthorized(c *gin.Context, details string) {
	Error(c, errors.NewWithDetails(errors.ErrUnauthorized, "未授权", details))
}
