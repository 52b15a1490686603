package kvstore

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/history"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

// formDataBody is the request body of the form data endpoints. FormData is
// the JSON encoded form data, as a string.
type formDataBody struct {
	DatasourceID   int64  `json:"datasource_id,omitempty"`
	DatasourceType string `json:"datasource_type,omitempty"`
	ChartID        int64  `json:"chart_id,omitempty"`
	FormData       string `json:"form_data"`
}

type keyResponse struct {
	Key string `json:"key"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type getResponse struct {
	FormData string `json:"form_data"`
}

type chartBody struct {
	FormData string `json:"form_data"`
}

type chartResponse struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Handler returns the HTTP API of s.
func (s *Store) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the form data and chart endpoints on r.
func (s *Store) RegisterHTTP(r chi.Router) {
	r.Post("/api/v1/explore/form_data", s.handlePost)
	r.Put("/api/v1/explore/form_data/{key}", s.handlePut)
	r.Get("/api/v1/explore/form_data/{key}", s.handleGet)
	r.Post("/api/v1/chart/{id}", s.handleSaveChart)
}

func decodeFormData(r *http.Request) (history.PutRequest, error) {
	var body formDataBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return history.PutRequest{}, err
	}
	req := history.PutRequest{
		Datasource: querydef.Datasource{ID: body.DatasourceID, Type: body.DatasourceType},
		ChartID:    body.ChartID,
		TabID:      r.URL.Query().Get(querydef.KeyTabID),
	}
	if err := json.Unmarshal([]byte(body.FormData), &req.FormData); err != nil {
		return history.PutRequest{}, err
	}
	return req, nil
}

func (s *Store) handlePost(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFormData(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	key, err := s.Put(r.Context(), req)
	if err != nil {
		debug.Warn("kvstore: put failed: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{Key: key})
}

func (s *Store) handlePut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	req, err := decodeFormData(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Update(r.Context(), key, req); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		debug.Warn("kvstore: update %s failed: %v", key, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Value updated successfully."})
}

func (s *Store) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	e, err := s.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		debug.Warn("kvstore: get %s failed: %v", key, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	payload, err := json.Marshal(e.FormData)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, getResponse{FormData: string(payload)})
}

func (s *Store) handleSaveChart(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid chart id", http.StatusBadRequest)
		return
	}
	var body chartBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	var fd map[string]any
	if err := json.Unmarshal([]byte(body.FormData), &fd); err != nil {
		http.Error(w, "Invalid form_data", http.StatusBadRequest)
		return
	}
	u, err := s.SaveChart(r.Context(), id, fd)
	if err != nil {
		debug.Warn("kvstore: save chart %d failed: %v", id, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, chartResponse{ID: id, URL: u})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Log("kvstore: writing response: %v", err)
	}
}
