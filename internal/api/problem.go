package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/vitalsync/internal/lists"
	"github.com/hyperengineering/vitalsync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest:          {"https://vitalsync.dev/errors/bad-request", "Bad Request"},
	http.StatusUnauthorized:        {"https://vitalsync.dev/errors/unauthorized", "Unauthorized"},
	http.StatusNotFound:            {"https://vitalsync.dev/errors/not-found", "Not Found"},
	http.StatusConflict:            {"https://vitalsync.dev/errors/conflict", "Conflict"},
	http.StatusPreconditionFailed:  {"https://vitalsync.dev/errors/precondition-failed", "Precondition Failed"},
	http.StatusUnprocessableEntity: {"https://vitalsync.dev/errors/validation-error", "Validation Error"},
	http.StatusTooManyRequests:     {"https://vitalsync.dev/errors/rate-limit", "Too Many Requests"},
	http.StatusInternalServerError: {"https://vitalsync.dev/errors/internal-error", "Internal Server Error"},
	http.StatusServiceUnavailable:  {"https://vitalsync.dev/errors/service-unavailable", "Service Unavailable"},
}

func lookupProblemType(status int) problemType {
	if pt, ok := problemTypes[status]; ok {
		return pt
	}
	return problemType{typeURI: "https://vitalsync.dev/errors/unknown", title: http.StatusText(status)}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt := lookupProblemType(status)
	writeProblemBody(w, status, Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := lookupProblemType(http.StatusUnprocessableEntity)
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	})
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapListError converts list errors to Problem Details responses.
// The 409 detail keeps the phrase "already exists" that clients key on.
func MapListError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lists.ErrItemNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Item not found")
	case errors.Is(err, lists.ErrListNotFound):
		WriteProblem(w, r, http.StatusNotFound, "List not found")
	case errors.Is(err, lists.ErrInvalidListName):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, lists.ErrItemExists):
		WriteProblem(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, lists.ErrPreconditionFailed):
		WriteProblem(w, r, http.StatusPreconditionFailed, "Item was modified; re-read and retry")
	case errors.Is(err, lists.ErrInvalidFilter):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
