package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes err as an ErrorResponse with the status of its code.
// Server-side failures keep their code but never leak the cause chain.
func WriteError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)

	resp := ErrorResponse{Code: code.String(), Message: errors.DefaultMessageForCode(code)}
	var ae *errors.AppError
	if errors.As(err, &ae) && status < http.StatusInternalServerError {
		resp.Message = ae.Message
		resp.Cause = ae.Detail
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New(errors.ErrCodeInputValidation, "request body too large")
		}
		return errors.Wrap(err, errors.ErrCodeBadRequest, "invalid JSON body").WithDetail(err.Error())
	}
	return nil
}
