package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Slamanii/Ride-hailing/internal/dispatch"
	"github.com/Slamanii/Ride-hailing/internal/eta"
	"github.com/Slamanii/Ride-hailing/internal/geo"
	"github.com/Slamanii/Ride-hailing/internal/matcher"
	"github.com/Slamanii/Ride-hailing/internal/models"
	"github.com/Slamanii/Ride-hailing/internal/observability"
	"github.com/Slamanii/Ride-hailing/internal/registry"
	"github.com/Slamanii/Ride-hailing/internal/rides"
	"github.com/Slamanii/Ride-hailing/internal/settlement"
	"github.com/Slamanii/Ride-hailing/internal/storage"
	"github.com/Slamanii/Ride-hailing/internal/trips"
)

// LocationPublisher forwards driver positions to the location stream.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, u models.LocationUpdate) error
}

// Deps are the collaborators the API is built from. Locations and ETA are
// optional.
type Deps struct {
	Directory geo.Directory
	Store     storage.Store
	Registry  *registry.Registry
	Matcher   *matcher.Service
	Trips     *trips.Service
	WS        *dispatch.WSRegistry
	Locations LocationPublisher
	ETA       *eta.Estimator
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides/request", s.handleRideRequest).Methods(http.MethodPost)
	api.HandleFunc("/drivers", s.handleCreateDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{driver_id}/response", s.handleDriverResponse).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{driver_id}/status", s.handleDriverStatus).Methods(http.MethodPut)
	api.HandleFunc("/riders", s.handleCreateRider).Methods(http.MethodPost)
	api.HandleFunc("/admin/overview", s.handleOverview).Methods(http.MethodGet)
	api.HandleFunc("/admin/riders", s.handleListRiders).Methods(http.MethodGet)
	api.HandleFunc("/admin/drivers", s.handleListDrivers).Methods(http.MethodGet)
	api.HandleFunc("/trips/reference/{reference}", s.handleGetTripByReference).Methods(http.MethodGet)
	api.HandleFunc("/trips/{trip_id}", s.handleGetTrip).Methods(http.MethodGet)
	api.HandleFunc("/trips/{trip_id}/complete", s.handleCompleteTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{trip_id}/cancel", s.handleCancelTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{trip_id}/settle", s.handleSettleTrip).Methods(http.MethodPost)

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var cmd rides.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := rides.NewRequest(cmd, time.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if mins := s.ETA.Minutes(r.Context(), req.Pickup, req.Dropoff, req.EstimatedMinutes); mins != req.EstimatedMinutes {
		rides.Reprice(&req, mins)
	}
	if err := s.Store.SaveRideRequest(r.Context(), &req); err != nil {
		s.fail(w, r, &matcher.InfrastructureError{Op: "save ride request", Err: err})
		return
	}

	// matching can outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	assignment, err := s.Matcher.RequestMatch(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

// handleDriverResponse never reports a missing slot as an error: a reply
// after the offer expired is routine.
func (s *Server) handleDriverResponse(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var reply models.DriverReply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := driverOutcome(reply.Response)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	delivered := s.Registry.Resolve(driverID, outcome)
	writeJSON(w, http.StatusOK, map[string]any{"driver_id": driverID, "delivered": delivered})
}

// driverOutcome only lets drivers answer yes or no; timeouts are decided
// server side.
func driverOutcome(raw string) (models.Outcome, error) {
	o, err := models.ParseOutcome(raw)
	if err != nil {
		return "", err
	}
	if o == models.OutcomeTimeout {
		return "", models.ErrUnknownOutcome
	}
	return o, nil
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var body struct {
		Status models.DriverStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "status must be one of available, busy, offline")
		return
	}
	prev, err := s.Directory.Get(r.Context(), driverID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Directory.SetStatus(r.Context(), driverID, body.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	trackOnline(prev.Status, body.Status)
	writeJSON(w, http.StatusOK, map[string]any{"driver_id": driverID, "status": body.Status})
}

func trackOnline(prev, next models.DriverStatus) {
	wasOnline, isOnline := prev != models.DriverOffline, next != models.DriverOffline
	switch {
	case !wasOnline && isOnline:
		observability.DriversOnline.Inc()
	case wasOnline && !isOnline:
		observability.DriversOnline.Dec()
	}
}

func (s *Server) handleCreateDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(d.ID) == "" || d.VehicleClass == "" || !d.Loc.Valid() {
		writeError(w, http.StatusBadRequest, "id, vehicle_class and a valid loc are required")
		return
	}
	if err := s.Directory.Upsert(r.Context(), d); err != nil {
		s.fail(w, r, err)
		return
	}
	if d.Status == models.DriverAvailable || d.Status == models.DriverBusy {
		observability.DriversOnline.Inc()
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleCreateRider(w http.ResponseWriter, r *http.Request) {
	var rd models.Rider
	if err := json.NewDecoder(r.Body).Decode(&rd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(rd.ID) == "" || strings.TrimSpace(rd.IdentityKey) == "" {
		writeError(w, http.StatusBadRequest, "id and identity_key are required")
		return
	}
	if err := s.Store.SaveRider(r.Context(), &rd); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	riders, err := s.Store.CountRiders(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	drivers, err := s.Directory.Count(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ongoing, err := s.Store.CountOngoingTrips(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"riders":                riders,
		"drivers":               drivers,
		"ongoing_trips":         ongoing,
		"pending_notifications": s.Registry.Len(),
	})
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func (s *Server) handleListRiders(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	riders, err := s.Store.ListRiders(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, riders)
}

type driverListing struct {
	models.Driver
	Connected bool `json:"connected"`
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	drivers, err := s.Directory.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]driverListing, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, driverListing{Driver: d, Connected: s.WS.Connected(d.ID)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u.DriverID == "" || !u.Loc.Valid() {
		writeError(w, http.StatusBadRequest, "driver_id and a valid loc are required")
		return
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}
	if err := s.Directory.UpdateLocation(r.Context(), u.DriverID, u.Loc); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.Locations != nil {
		if err := s.Locations.PublishLocation(r.Context(), u); err != nil {
			s.logger.Warn("publish location", "driver_id", u.DriverID, "err", err)
		}
	}
	done, err := s.Trips.HandleLocation(r.Context(), u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ids := make([]string, 0, len(done))
	for _, t := range done {
		ids = append(ids, t.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed_trips": ids})
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.GetTrip(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetTripByReference(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.GetTripByReference(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Trips.Complete(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	t, err := s.Trips.Cancel(r.Context(), mux.Vars(r)["trip_id"], body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSettleTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Trips.Settle(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		s.logger.Info("ws upgrade failed", "driver_id", id, "err", err)
		return
	}
	s.WS.Serve(r.Context(), id, conn, s.resolveReply)
}

func (s *Server) resolveReply(driverID string, reply models.DriverReply) {
	outcome, err := driverOutcome(reply.Response)
	if err != nil {
		s.logger.Info("ws reply ignored", "driver_id", driverID, "err", err)
		return
	}
	if !s.Registry.Resolve(driverID, outcome) {
		s.logger.Debug("late ws reply", "driver_id", driverID, "outcome", outcome)
	}
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "route", routeTemplate(r), "err", err, "request_id", requestIDFromContext(r.Context()))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var infra *matcher.InfrastructureError
	switch {
	case errors.As(err, &infra):
		return http.StatusServiceUnavailable
	case errors.Is(err, matcher.ErrNoDriverAvailable),
		errors.Is(err, matcher.ErrUnknownRider),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, geo.ErrUnknownDriver):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTripTerminal),
		errors.Is(err, storage.ErrDuplicateTrip),
		errors.Is(err, settlement.ErrNotCompleted):
		return http.StatusConflict
	case errors.Is(err, rides.ErrInvalidRequest),
		errors.Is(err, rides.ErrItemTooLarge),
		errors.Is(err, rides.ErrTooManyItems),
		errors.Is(err, models.ErrUnknownRideClass):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
