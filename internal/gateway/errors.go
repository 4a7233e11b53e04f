package gateway

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"

	"stratsim/internal/auth"
	"stratsim/internal/model"
	"stratsim/internal/predictor"
	"stratsim/internal/store/sqlite"
)

// errBadBody marks a request body that is not valid JSON.
var errBadBody = errors.New("invalid JSON body")

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var pe *predictor.Error
	switch {
	case errors.Is(err, errBadBody), model.IsConfigError(err):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, sqlite.ErrResultNotFound):
		return http.StatusNotFound
	case model.IsDataError(err) && errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case model.IsDataError(err):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe) && pe.Unavailable():
		return http.StatusServiceUnavailable
	case errors.As(err, &pe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"response encoding failed"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
