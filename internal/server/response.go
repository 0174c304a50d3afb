package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type envelope struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusUnauthorized:        "UNAUTHORIZED",
	http.StatusForbidden:           "FORBIDDEN",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusMethodNotAllowed:    "METHOD_NOT_ALLOWED",
	http.StatusConflict:            "CONFLICT",
	http.StatusTooManyRequests:     "RATE_LIMITED",
	http.StatusNotImplemented:      "NOT_IMPLEMENTED",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
}

func errorCode(status int) string {
	if code, ok := errorCodes[status]; ok {
		return code
	}
	return "HTTP_ERROR"
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	s.write(w, status, envelope{Status: "success", Data: data})
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.write(w, status, envelope{
		Status: "error",
		Error:  &apiError{Code: errorCode(status), Message: message},
	})
}

// respondErrorData is respondError with a payload describing partial results.
func (s *Server) respondErrorData(w http.ResponseWriter, status int, message string, data any) {
	s.write(w, status, envelope{
		Status: "error",
		Data:   data,
		Error:  &apiError{Code: errorCode(status), Message: message},
	})
}

func (s *Server) write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
