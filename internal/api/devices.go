package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/stsync/internal/command"
	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/gateway"
	"github.com/nerrad567/stsync/internal/poller"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// DeviceResponse is the JSON shape of one device.
type DeviceResponse struct {
	ID      string             `json:"id"`
	Label   string             `json:"label"`
	State   device.DeviceState `json:"state"`
	Control device.Control     `json:"control"`
}

func toDeviceResponse(ds device.DeviceStatus) DeviceResponse {
	return DeviceResponse{
		ID:      ds.Device.ID,
		Label:   ds.Device.Label,
		State:   ds.State,
		Control: ds.State.Control(),
	}
}

// CommandRequest is the body of POST /devices/{id}/commands.
type CommandRequest struct {
	Capability string `json:"capability"`
	Value      string `json:"value"`
}

// handleListDevices returns every device in list order with its state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.registry.Snapshot()
	devices := make([]DeviceResponse, 0, len(snapshot))
	for _, ds := range snapshot {
		devices = append(devices, toDeviceResponse(ds))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":  s.registry.Stats(),
		"in_flight": len(s.poller.InFlight()),
	})
}

// handleReloadDevices fetches the device list again. Concurrent reloads
// share one CLI invocation.
func (s *Server) handleReloadDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.poller.Reload(r.Context()); err != nil {
		switch {
		case errors.Is(err, poller.ErrNotRunning):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "poller is not running")
		case errors.Is(err, device.ErrMalformed):
			writeError(w, http.StatusBadGateway, ErrCodeCommandFailed, err.Error())
		default:
			writeCommandError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": s.registry.Count()})
}

// handleGetDevice returns one device with its state and control.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ds, err := s.registry.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(ds))
}

// handleSendCommand runs capability:value against a device.
//
// The response is 202 once the CLI has accepted the command; the new state
// is reported by the follow-up fetch, not by this response.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.commands.SendCommand(r.Context(), id, req.Capability, req.Value); err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"device_id":  id,
		"capability": req.Capability,
		"value":      req.Value,
	})
}

// handleToggle issues the device's current control command.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctrl, err := s.commands.Toggle(r.Context(), id)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"device_id":  id,
		"capability": ctrl.Capability,
		"value":      ctrl.Value,
	})
}

// writeCommandError maps dispatcher and gateway errors to HTTP statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrInvalid):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, command.ErrControlDisabled):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, gateway.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeCommandTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeCommandFailed, err.Error())
	}
}

// handleGetDeviceHistory returns recorded states for a device, newest first.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "state history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.registry.Has(id) {
		writeNotFound(w, "device not found")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("error reading state history", "device_id", id, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	if entries == nil {
		entries = []device.StateHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}

// handleListFetches returns the status fetches currently running.
func (s *Server) handleListFetches(w http.ResponseWriter, _ *http.Request) {
	fetches := s.poller.InFlight()
	if fetches == nil {
		fetches = []poller.InFlightFetch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fetches": fetches, "count": len(fetches)})
}
