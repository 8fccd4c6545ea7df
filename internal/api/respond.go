package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MikeSquared-Agency/scribematch/internal/broker"
	"github.com/MikeSquared-Agency/scribematch/internal/engine"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names instead of Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ValidationError lists the request fields that failed their struct tags.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string { return strings.Join(e.Fields, "; ") }

// decodeStatus separates unreadable bodies (400) from well-formed bodies
// that fail validation (422).
func decodeStatus(err error) int {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v interface{}) error {
	if err := decodeBody(r, v); err != nil {
		return err
	}
	return validateStruct(v)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return &ValidationError{Fields: msgs}
}

func fieldMessage(fe validator.FieldError) string {
	// drop the root type name
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "datetime":
		return fmt.Sprintf("%s must match layout %s", field, fe.Param())
	case "latitude", "longitude":
		return fmt.Sprintf("%s must be a valid %s", field, fe.Tag())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// brokerStatus maps broker errors onto HTTP status codes.
func brokerStatus(err error) int {
	switch {
	case errors.Is(err, broker.ErrStudentNotFound),
		errors.Is(err, broker.ErrExamNotFound),
		errors.Is(err, broker.ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, broker.ErrExamStudentMismatch),
		errors.Is(err, broker.ErrExamClosed),
		errors.Is(err, broker.ErrAttemptNotProposed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// matchStatus picks the status for an engine response. Runs that simply
// found nobody are still a 200.
func matchStatus(resp engine.MatchingResponse) int {
	switch {
	case resp.Err == nil:
		return http.StatusOK
	case errors.Is(resp.Err, engine.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(resp.Err, engine.ErrCancelled):
		return http.StatusServiceUnavailable
	case errors.Is(resp.Err, engine.ErrInternal):
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
