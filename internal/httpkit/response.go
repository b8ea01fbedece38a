package httpkit

import (
	"encoding/json"
	"net/http"

	"vidforge/internal/pkg/errors"
)

type ErrorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	var env ErrorEnvelope
	env.Error.Code = code
	env.Error.Message = msg
	env.Error.Details = details
	WriteJSON(w, status, env)
}

// WriteError maps a coded error onto the standard error envelope.
func WriteError(w http.ResponseWriter, err error) {
	var e *errors.Error
	if errors.As(err, &e) {
		WriteErr(w, e.HTTPStatus(), string(e.Code), e.Message, e.Fields)
		return
	}
	WriteErr(w, 500, string(errors.CodeInternal), "internal server error", nil)
}
