package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"flash.com/pkg/perp"
)

const maxBodyBytes = 1 << 16

// statusOf 错误类别 -> HTTP 状态码
func statusOf(class perp.Class) int {
	switch class {
	case perp.ClassPrecondition:
		return http.StatusBadRequest
	case perp.ClassState:
		return http.StatusConflict
	case perp.ClassExternal:
		return http.StatusServiceUnavailable
	case perp.ClassSafety:
		return http.StatusUnprocessableEntity
	case perp.ClassAuthorization:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, class, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Class: class})
}

// writeEngineError 引擎错误按类别输出; 未分类错误不透出细节
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	class := perp.ClassOf(err)
	status := statusOf(class)
	msg := err.Error()
	if class == perp.ClassUnknown {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeError(w, status, class.String(), msg)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
