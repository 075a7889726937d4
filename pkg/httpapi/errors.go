package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zcs/pkg/errs"
)

const errInternal = "internal_error"

// StatusCodes maps errs codes to HTTP statuses. Unknown codes are 500.
func StatusCodes() map[string]int {
	return map[string]int{
		errs.ErrInvalidArgument:  http.StatusBadRequest,
		errs.ErrMalformedMessage: http.StatusBadRequest,
		errs.ErrNotFound:         http.StatusNotFound,
		errs.ErrNotStarted:       http.StatusConflict,
		errs.ErrSendFailure:      http.StatusBadGateway,
		errs.ErrInit:             http.StatusServiceUnavailable,
		errs.ErrFatal:            http.StatusServiceUnavailable,
	}
}

// ErrResponse is the body of every error reply.
type ErrResponse struct {
	Error *errs.Error `json:"error,omitempty"`
}

// ErrorHandler renders handler errors as ErrResponse.
type ErrorHandler struct {
	statusCodes map[string]int
	log         *zap.Logger
}

func NewErrorHandler(statusCodes map[string]int, log *zap.Logger) *ErrorHandler {
	return &ErrorHandler{statusCodes: statusCodes, log: log}
}

func (h *ErrorHandler) status(code string) int {
	if s, ok := h.statusCodes[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (h *ErrorHandler) Handle(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		body   *errs.Error
		status int
		he     *echo.HTTPError
	)
	if errors.As(err, &he) {
		status = he.Code
		body = errs.New(httpCode(status), fmt.Sprint(he.Message), err)
	} else if body = errs.As(err); body != nil {
		status = h.status(body.Code)
	} else {
		status = http.StatusInternalServerError
		body = errs.New(errInternal, "an internal server error has occurred", err)
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("HTTP request error", zap.String("path", c.Path()), zap.Error(err))
	} else {
		h.log.Debug("HTTP request error", zap.String("path", c.Path()), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, ErrResponse{Error: body})
}

func httpCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusBadRequest:
		return errs.ErrInvalidArgument
	}
	if status >= http.StatusInternalServerError {
		return errInternal
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
