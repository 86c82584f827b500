package handlers

import "github.com/gin-gonic/gin"

const (
	ErrCodeBadRequest       string = "ERR_BAD_REQUEST"
	ErrCodeUnknownType      string = "ERR_UNKNOWN_TYPE"
	ErrCodeNotReconcilable  string = "ERR_NOT_RECONCILABLE"
	ErrCodePartialRemoteSet string = "ERR_PARTIAL_REMOTE_SET"
	ErrCodeNotFound         string = "ERR_NOT_FOUND"
	ErrCodeUnavailable      string = "ERR_UNAVAILABLE"
	ErrCodeUnknownError     string = "ERR_UNKNOWN_ERROR"
)

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

// Accepted is returned when a run was started in the background.
type Accepted struct {
	SessionID string `json:"session_id"`
	Progress  string `json:"progress"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
