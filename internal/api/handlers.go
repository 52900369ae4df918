package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/vitalsync/internal/lists"
	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/hyperengineering/vitalsync/internal/validation"
)

// MaxBodyBytes bounds request bodies accepted by the write endpoints.
const MaxBodyBytes = 1 << 20

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Lists   []string `json:"lists"`
}

// ItemsResponse is the body of a collection query.
type ItemsResponse struct {
	Value []map[string]any `json:"value"`
}

// Handler implements the list server endpoints.
type Handler struct {
	registry *lists.Registry
	apiKey   string
	version  string
}

// NewHandler creates a Handler.
func NewHandler(registry *lists.Registry, apiKey, version string) *Handler {
	return &Handler{
		registry: registry,
		apiKey:   apiKey,
		version:  version,
	}
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Lists:   h.registry.Names(),
	})
}

// ListItems handles GET /api/v1/lists/{list}/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	l, err := ListFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items := l.Find(q)
	resp := ItemsResponse{Value: make([]map[string]any, 0, len(items))}
	for _, it := range items {
		resp.Value = append(resp.Value, it.Projection(q.Select))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetItem handles GET /api/v1/lists/{list}/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	l, err := ListFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	it, err := l.Get(chi.URLParam(r, "id"))
	if err != nil {
		MapListError(w, r, err)
		return
	}
	w.Header().Set("ETag", it.ETag())
	writeJSON(w, http.StatusOK, it.Projection(nil))
}

// CreateItem handles POST /api/v1/lists/{list}/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	l, err := ListFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	fields, ok := decodeRecord(w, r, true)
	if !ok {
		return
	}

	it, err := l.Create(fields)
	if err != nil {
		MapListError(w, r, err)
		return
	}

	slog.Debug("item created",
		"component", "api",
		"list", l.Name(),
		"id", it.ID,
	)
	w.Header().Set("ETag", it.ETag())
	w.Header().Set("Location", r.URL.Path+"/"+it.ID)
	writeJSON(w, http.StatusCreated, it.Projection(nil))
}

// UpdateItem handles PATCH /api/v1/lists/{list}/items/{id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	l, err := ListFromContext(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	id := chi.URLParam(r, "id")
	if verr := validation.ValidateULID("id", id); verr != nil {
		WriteProblem(w, r, http.StatusNotFound, "Item not found")
		return
	}

	fields, ok := decodeRecord(w, r, false)
	if !ok {
		return
	}

	it, err := l.Update(id, r.Header.Get("If-Match"), fields)
	if err != nil {
		MapListError(w, r, err)
		return
	}

	slog.Debug("item updated",
		"component", "api",
		"list", l.Name(),
		"id", it.ID,
		"version", it.Version,
	)
	w.Header().Set("ETag", it.ETag())
	writeJSON(w, http.StatusOK, it.Projection(nil))
}

// decodeRecord reads the body as a field map and validates it as a record.
// It writes the error response itself and reports false on failure.
func decodeRecord(w http.ResponseWriter, r *http.Request, create bool) (map[string]any, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Could not read request body")
		return nil, false
	}
	if len(body) > MaxBodyBytes {
		WriteProblem(w, r, http.StatusBadRequest, "Request body too large")
		return nil, false
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return nil, false
	}

	var rec types.RemoteRecord
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&rec); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid record: %s", err.Error()))
		return nil, false
	}
	if errs := validation.ValidateRecord(rec, create); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Record contains invalid fields", errs)
		return nil, false
	}
	return fields, true
}

// parseQuery reads $filter, $select and $top.
func parseQuery(r *http.Request) (lists.Query, error) {
	params := r.URL.Query()

	filter, err := lists.ParseFilter(params.Get("$filter"))
	if err != nil {
		return lists.Query{}, err
	}
	q := lists.Query{Filter: filter}

	if sel := params.Get("$select"); sel != "" {
		for _, field := range strings.Split(sel, ",") {
			if field = strings.TrimSpace(field); field != "" {
				q.Select = append(q.Select, field)
			}
		}
	}

	if top := params.Get("$top"); top != "" {
		n, err := strconv.Atoi(top)
		if err != nil || n < 0 {
			return lists.Query{}, fmt.Errorf("invalid $top %q", top)
		}
		q.Top = n
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
