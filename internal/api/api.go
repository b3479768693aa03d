package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/dispatcher"
	"github.com/thatsimonsguy/sprinkler-controller/internal/irrigation"
	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/schedule"
	"github.com/thatsimonsguy/sprinkler-controller/internal/settings"
	"github.com/thatsimonsguy/sprinkler-controller/internal/trigger"
	"github.com/thatsimonsguy/sprinkler-controller/internal/valve"
)

const discoverTimeout = 2 * time.Minute

// Controller is the subset of irrigation.Service the API exposes.
type Controller interface {
	ListSchedules() []model.ScheduleEntry
	AddSchedule(zone int, minutes float64, cron string, override bool) (schedule.AddResult, error)
	DeleteSchedule(index int) (bool, error)
	ClearZone(zone int) ([]int, error)
	RunZoneManually(zone int, minutes float64) error
	AllOff(ctx context.Context) error
	CheckWeatherNow(ctx context.Context) irrigation.WeatherReport
	GetSettings() model.Settings
	SaveSettings(s model.Settings) error
	Discover(ctx context.Context) ([]string, error)
	UpcomingRuns() []dispatcher.Job
}

type Server struct {
	svc  Controller
	http *http.Server
}

type ScheduleResponse struct {
	Index   int     `json:"index"`
	Zone    int     `json:"zone"`
	Minutes float64 `json:"minutes"`
	Cron    string  `json:"cron"`
}

type AddScheduleRequest struct {
	Zone     int     `json:"zone"`
	Minutes  float64 `json:"minutes"`
	Cron     string  `json:"cron"`
	Override bool    `json:"override"`
}

type AddScheduleResponse struct {
	schedule.AddResult
	Error string `json:"error,omitempty"`
}

type ClearZoneResponse struct {
	Removed []int `json:"removed"`
}

type RunRequest struct {
	Minutes float64 `json:"minutes"`
}

type DiscoverResponse struct {
	Hits []string `json:"hits"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer prepares the API for addr. The listener is opened by Start.
func NewServer(svc Controller, addr string) *Server {
	s := &Server{svc: svc}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/schedules", s.handleSchedules)
	mux.HandleFunc("/api/schedules/", s.handleScheduleOperations)
	mux.HandleFunc("/api/zones/", s.handleZoneOperations)
	mux.HandleFunc("/api/alloff", s.handleAllOff)
	mux.HandleFunc("/api/weather", s.handleWeather)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/discover", s.handleDiscover)
	mux.HandleFunc("/api/upcoming", s.handleUpcoming)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("address", s.http.Addr).Msg("Starting REST API server")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSchedules(w)
	case http.MethodPost:
		s.addSchedule(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleScheduleOperations(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/schedules/"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Schedule index required")
		return
	}
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ok, err := s.svc.DeleteSchedule(idx)
	if err != nil {
		log.Error().Err(err).Int("index", idx).Msg("Failed to delete schedule")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "Schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleZoneOperations(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/zones/"), "/")
	if len(parts) != 2 {
		s.writeError(w, http.StatusNotFound, "Invalid path")
		return
	}

	zone, err := strconv.Atoi(parts[0])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Zone must be a number")
		return
	}

	switch {
	case parts[1] == "schedules" && r.Method == http.MethodDelete:
		s.clearZone(w, zone)
	case parts[1] == "run" && r.Method == http.MethodPost:
		s.runZone(w, r, zone)
	case parts[1] == "schedules" || parts[1] == "run":
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		s.writeError(w, http.StatusNotFound, "Unknown operation")
	}
}

func (s *Server) handleAllOff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.svc.AllOff(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.CheckWeatherNow(r.Context()))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.svc.GetSettings())
	case http.MethodPut:
		s.saveSettings(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), discoverTimeout)
	defer cancel()

	hits, err := s.svc.Discover(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Controller discovery failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, DiscoverResponse{Hits: hits})
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.UpcomingRuns())
}

func (s *Server) listSchedules(w http.ResponseWriter) {
	entries := s.svc.ListSchedules()
	response := make([]ScheduleResponse, 0, len(entries))
	for i, e := range entries {
		response = append(response, ScheduleResponse{Index: i, Zone: e.Zone, Minutes: e.Minutes, Cron: e.Cron})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) addSchedule(w http.ResponseWriter, r *http.Request) {
	var req AddScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	result, err := s.svc.AddSchedule(req.Zone, req.Minutes, req.Cron, req.Override)
	switch {
	case errors.Is(err, schedule.ErrConflict):
		s.writeJSON(w, http.StatusConflict, AddScheduleResponse{AddResult: result, Error: err.Error()})
	case err != nil:
		s.writeServiceError(w, err)
	case result.Stored:
		s.writeJSON(w, http.StatusCreated, AddScheduleResponse{AddResult: result})
	default:
		s.writeJSON(w, http.StatusOK, AddScheduleResponse{AddResult: result})
	}
}

func (s *Server) clearZone(w http.ResponseWriter, zone int) {
	removed, err := s.svc.ClearZone(zone)
	if err != nil {
		log.Error().Err(err).Int("zone", zone).Msg("Failed to clear zone schedules")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if removed == nil {
		removed = []int{}
	}
	s.writeJSON(w, http.StatusOK, ClearZoneResponse{Removed: removed})
}

func (s *Server) runZone(w http.ResponseWriter, r *http.Request, zone int) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := s.svc.RunZoneManually(zone, req.Minutes); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	var req model.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := s.svc.SaveSettings(req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.GetSettings())
}

// writeServiceError maps domain errors to status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var parseErr *trigger.ParseError
	switch {
	case errors.As(err, &parseErr),
		errors.Is(err, schedule.ErrInvalidEntry),
		errors.Is(err, settings.ErrInvalid),
		errors.Is(err, irrigation.ErrUnknownZone),
		errors.Is(err, irrigation.ErrInvalidDuration):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, valve.ErrControllerUnset):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
