package api

import "net/http"

// Envelope result codes understood by the simulation UI.
const (
	CodeSuccess = 0
	CodeError   = 500
	CodeOverdue = 9009  // expired credentials
	CodeTimeout = 10000 // request deadline exceeded
)

// Envelope is the response body of every /epitome/ route.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// emptyData is the {} the UI expects when a response has no payload.
var emptyData = struct{}{}

// writeEnvelope writes an envelope with HTTP 200. The UI reads the result
// from the envelope code, not the HTTP status.
func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, http.StatusOK, Envelope{Code: code, Message: message, Data: data})
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	writeEnvelope(w, CodeSuccess, message, data)
}

func writeFailure(w http.ResponseWriter, message string) {
	writeEnvelope(w, CodeError, message, emptyData)
}
