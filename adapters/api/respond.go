package api

import (
	"encoding/json"
	"net/http"

	"mltrack/internal/errors"
)

type errorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone already; nothing useful to send.
		return
	}
}

// statusFor maps error codes onto the HTTP statuses MLflow servers use
func statusFor(code string) int {
	switch code {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidParameterValue, errors.CodeAlreadyExists, errors.CodeInvalidState,
		errors.CodeInvalidInput, errors.CodeValidationError:
		return http.StatusBadRequest
	case errors.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		if code == "UNKNOWN" {
			code = errors.CodeInternalError
		}
	} else {
		s.logger.Debug("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{ErrorCode: code, Message: err.Error()})
}

// decode reads a JSON request body; an empty body decodes as the zero value
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.InvalidParameter("malformed request body: " + err.Error())
	}
	return nil
}

func requireField(value, name string) error {
	if value == "" {
		return errors.InvalidParameter("missing value for required parameter '" + name + "'")
	}
	return nil
}

var empty = struct{}{}
