package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencomply/opencomply/pkg/engine"
)

// APIError is the structured error response body.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Class string `json:"class,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, APIError{Error: message})
}

// respondEngineError maps classified engine errors onto HTTP status codes.
// Unclassified errors surface as 500.
func respondEngineError(w http.ResponseWriter, err error) {
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch {
	case ee.Code == engine.ErrCodeNotFound:
		status = http.StatusNotFound
	case ee.Code == engine.ErrCodeAlreadyExists,
		ee.Code == engine.ErrCodeVersionMismatch,
		ee.Code == engine.ErrCodeApplyInFlight,
		ee.Code == engine.ErrCodeDuplicateKey:
		status = http.StatusConflict
	case ee.Code == engine.ErrCodePolicyDenied:
		status = http.StatusForbidden
	case ee.Class == engine.ErrorClassParse,
		ee.Class == engine.ErrorClassValidation:
		status = http.StatusUnprocessableEntity
	case ee.Class == engine.ErrorClassConflict:
		status = http.StatusConflict
	case ee.Class == engine.ErrorClassPermanent:
		status = http.StatusBadRequest
	}

	respondJSON(w, status, APIError{
		Error: ee.Error(),
		Code:  ee.Code,
		Class: string(ee.Class),
	})
}
