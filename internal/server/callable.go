package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"poetry-tutor/internal/pipeline"
)

// Callable status names written in error bodies.
const (
	statusInvalidArgument = "INVALID_ARGUMENT"
	statusNotFound        = "NOT_FOUND"
	statusInternal        = "INTERNAL"
)

var envelopeSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {"type": ["object", "null"]}
	}
}`)

// decodeCallableRequest reads {"data": {...}} and returns the data member.
// A null data member is an empty request. Numbers are kept as json.Number
// so they render exactly as sent.
func decodeCallableRequest(c echo.Context) (pipeline.Request, error) {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, callableError{Code: http.StatusRequestEntityTooLarge, Status: statusInvalidArgument, Message: "request body too large"}
		}
		return nil, callableError{Code: http.StatusBadRequest, Status: statusInvalidArgument, Message: "failed to read request body"}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, callableError{Code: http.StatusBadRequest, Status: statusInvalidArgument, Message: "request body is required"}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		return nil, callableError{Code: http.StatusBadRequest, Status: statusInvalidArgument, Message: fmt.Sprintf("invalid JSON payload: %v", err)}
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, callableError{Code: http.StatusBadRequest, Status: statusInvalidArgument, Message: "request body must contain a single JSON object"}
	}

	result, err := gojsonschema.Validate(envelopeSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, callableError{Code: http.StatusBadRequest, Status: statusInvalidArgument, Message: fmt.Sprintf("invalid request envelope: %v", err)}
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, callableError{Code: http.StatusBadRequest, Status: statusInvalidArgument, Message: "invalid request envelope: " + strings.Join(errs, "; ")}
	}

	data, _ := body["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return pipeline.Request(data), nil
}

type callableError struct {
	Code    int
	Status  string
	Message string
	cause   error
}

func (e callableError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.Message
}

func (e callableError) Unwrap() error {
	return e.cause
}

type errorBody struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(c echo.Context, code int, status, message string) error {
	var payload errorBody
	payload.Error.Status = status
	payload.Error.Message = message
	return c.JSON(code, payload)
}

func callableErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var callErr callableError
		if errors.As(err, &callErr) {
			if callErr.Status == statusInternal {
				logger.Error("callable failed",
					zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
					zap.String("path", c.Path()),
					zap.Error(err),
				)
			}
			_ = writeError(c, callErr.Code, callErr.Status, callErr.Message)
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			switch {
			case he.Code == http.StatusNotFound:
				_ = writeError(c, he.Code, statusNotFound, "NOT_FOUND")
			case he.Code < http.StatusInternalServerError:
				_ = writeError(c, he.Code, statusInvalidArgument, fmt.Sprint(he.Message))
			default:
				_ = writeError(c, http.StatusInternalServerError, statusInternal, statusInternal)
			}
			return
		}

		logger.Error("unhandled error", zap.Error(err))
		_ = writeError(c, http.StatusInternalServerError, statusInternal, statusInternal)
	}
}

// toCallableError maps pipeline errors onto callable statuses. Upstream
// details are logged, never returned.
func toCallableError(err error) error {
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		return callableError{Code: http.StatusBadRequest, Status: statusInvalidArgument, Message: verr.Message}
	}
	if errors.Is(err, pipeline.ErrUnknownOperation) {
		return callableError{Code: http.StatusNotFound, Status: statusNotFound, Message: "NOT_FOUND"}
	}
	return callableError{Code: http.StatusInternalServerError, Status: statusInternal, Message: statusInternal, cause: err}
}
