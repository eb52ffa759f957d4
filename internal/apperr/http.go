package apperr

import (
	"encoding/json"
	"net/http"
)

type envelopeBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// WriteHTTP writes the {"error":{code,message,stack?}} envelope for err with
// its mapped status. The stack is included only when withStack is set.
func WriteHTTP(w http.ResponseWriter, err error, withStack bool) {
	body := envelopeBody{
		Code:    string(KindOf(err)),
		Message: PublicMessage(err),
	}
	if withStack {
		body.Stack = StackOf(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(err))
	_ = json.NewEncoder(w).Encode(map[string]envelopeBody{"error": body})
}
