// Package reportstest provides an in-memory report service for tests.
package reportstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"climate/manager"
)

// Patch is one PATCH the server received.
type Patch struct {
	ID          string
	Temperature float64
	Description string
}

// Server behaves like the report service: it lists locations and reports,
// and on PATCH it applies the change and increments modification_count.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	locations []manager.Location
	reports   []manager.Report
	failing   map[string]int
	patches   []Patch
}

func NewServer(locations []manager.Location, reports []manager.Report) *Server {
	s := &Server{
		locations: locations,
		reports:   append([]manager.Report(nil), reports...),
		failing:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /locations", s.handleLocations)
	mux.HandleFunc("GET /weather_reports", s.handleReports)
	mux.HandleFunc("PATCH /weather_reports/{id}", s.handlePatch)
	s.Server = httptest.NewServer(mux)

	return s
}

// FailLocation makes report listing for name answer with status.
func (s *Server) FailLocation(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[name] = status
}

func (s *Server) Patches() []Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Patch(nil), s.patches...)
}

func (s *Server) Reports() []manager.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]manager.Report(nil), s.reports...)
}

func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.locations)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	location := r.URL.Query().Get("location")
	if status, ok := s.failing[location]; ok {
		writeJSON(w, status, map[string]string{"error": "unavailable"})
		return
	}

	found := make([]manager.Report, 0)
	for _, report := range s.reports {
		if report.Location == location {
			found = append(found, report)
		}
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WeatherReport struct {
			Temperature *float64 `json:"temperature"`
			Description *string  `json:"description"`
		} `json:"weather_report"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.WeatherReport.Temperature == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid weather_report"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.PathValue("id")
	patch := Patch{ID: id, Temperature: *body.WeatherReport.Temperature}
	if body.WeatherReport.Description != nil {
		patch.Description = *body.WeatherReport.Description
	}
	s.patches = append(s.patches, patch)

	for i := range s.reports {
		if s.reports[i].ID.String() != id {
			continue
		}
		s.reports[i].Temperature = patch.Temperature
		s.reports[i].Description = patch.Description
		s.reports[i].ModificationCount++
		writeJSON(w, http.StatusOK, s.reports[i])
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort test response
}
