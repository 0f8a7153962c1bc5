package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"incident-desk/core/auth"
	"incident-desk/core/rules"
	"incident-desk/core/utils"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// writeError maps violations to their status codes. Anything else is an
// internal error and is logged, never echoed.
func writeError(w http.ResponseWriter, r *http.Request, logger *utils.Logger, err error) {
	if v, ok := rules.AsViolation(err); ok {
		status := http.StatusInternalServerError
		switch v.Kind {
		case rules.KindConflict:
			status = http.StatusConflict
		case rules.KindNotFound:
			status = http.StatusNotFound
		case rules.KindValidation:
			status = http.StatusBadRequest
		}
		writeErrorBody(w, status, errorBody{Code: string(v.Kind), Message: v.Message, Field: v.Field})
		return
	}
	logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	writeErrorBody(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "server error"})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return rules.Validation("", "unreadable request body")
	}
	if len(body) > maxBodyBytes {
		return rules.Validation("", "request body too large")
	}
	return decodeBytes(body, dst)
}

func decodeBytes(body []byte, dst interface{}) error {
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return rules.Validation(typeErr.Field, "invalid type for "+typeErr.Field)
		}
		return rules.Validation("", "invalid json")
	}
	return nil
}

func currentUser(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return id.User
	}
	return ""
}

func parseIntDefault(val string, def int) int {
	val = strings.TrimSpace(val)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return def
	}
	return n
}
