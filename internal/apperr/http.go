package apperr

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

// Body is the failure half of the response envelope.
type Body struct {
	Kind              Kind   `json:"kind"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// Envelope is written for every failed request.
type Envelope struct {
	Success bool `json:"success"`
	Error   Body `json:"error"`
}

// EnvelopeOf builds the caller-facing envelope for err. Internal causes are
// never included.
func EnvelopeOf(err error) Envelope {
	body := Body{Kind: KindOf(err), Message: MessageOf(err)}
	if ra := RetryAfterOf(err); ra > 0 {
		body.RetryAfterSeconds = int(math.Ceil(ra.Seconds()))
	}
	return Envelope{Success: false, Error: body}
}

// WriteHTTP writes err as a JSON envelope with the status for its kind and,
// for throttling kinds, a Retry-After header.
func WriteHTTP(w http.ResponseWriter, err error) {
	env := EnvelopeOf(err)
	if env.Error.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(env.Error.RetryAfterSeconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(env.Error.Kind))
	_ = json.NewEncoder(w).Encode(env)
}
