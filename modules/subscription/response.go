package subscription

import (
	"encoding/json"
	"net/http"
)

// jsonBody is the envelope every endpoint answers with.
type jsonBody struct {
	Code  string       `json:"code,omitempty"`
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

// errorDetail carries error information to the client.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// httpError pairs an HTTP status with a stable machine-readable key.
type httpError struct {
	status int
	key    string
}

func (e httpError) Error() string {
	return e.key
}

var (
	errBadRequest    = httpError{status: http.StatusBadRequest, key: "bad_request"}
	errUnauthorized  = httpError{status: http.StatusUnauthorized, key: "unauthorized"}
	errNotFound      = httpError{status: http.StatusNotFound, key: "not_found"}
	errConflict      = httpError{status: http.StatusConflict, key: "conflict"}
	errGone          = httpError{status: http.StatusGone, key: "gone"}
	errUnprocessable = httpError{status: http.StatusUnprocessableEntity, key: "unprocessable_entity"}
	errBadGateway    = httpError{status: http.StatusBadGateway, key: "bad_gateway"}
	errInternal      = httpError{status: http.StatusInternalServerError, key: "internal_server_error"}
)

func writeJSON(w http.ResponseWriter, status int, code string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonBody{Code: code, Data: data})
}

func writeError(w http.ResponseWriter, err error, message string) {
	he, ok := err.(httpError)
	if !ok {
		he = errInternal
	}
	if message == "" {
		message = http.StatusText(he.status)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(jsonBody{
		Code:  he.key,
		Error: &errorDetail{Code: he.key, Message: message},
	})
}
