package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	coreerrors "voucherchain/core/errors"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps an error kind onto the HTTP status the API answers with.
func statusFor(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	switch coreerrors.Kind(err) {
	case "guard":
		return http.StatusForbidden
	case "replay":
		return http.StatusConflict
	case "capacity":
		return http.StatusUnprocessableEntity
	case "paused":
		return http.StatusLocked
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func kindFor(err error) string {
	if errors.Is(err, errBadRequest) {
		return "bad_request"
	}
	return coreerrors.Kind(err)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeErrorStatus(w, status, kindFor(err), message)
}

func writeErrorStatus(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
