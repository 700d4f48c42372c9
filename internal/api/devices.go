package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// defaultHistoryLimit caps history responses when no limit is given.
const defaultHistoryLimit = 100

// handleListDevices returns cached devices, optionally filtered by
// room, type or online state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []device.Device

	switch {
	case r.URL.Query().Get("room") != "":
		devices = s.states.ListByRoom(r.URL.Query().Get("room"))
	case r.URL.Query().Get("type") != "":
		devices = s.states.ListByType(device.DeviceType(r.URL.Query().Get("type")))
	case r.URL.Query().Get("online") == "true":
		devices = s.states.ListOnline()
	default:
		devices = s.states.ListAll()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.states.Get(id)
	if err != nil {
		if errors.Is(err, cache.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleRemoveDevice drops a device from the cache.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.states.RemoveDevice(id) {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}

// commandRequest is the body for POST /devices/{id}/command.
type commandRequest struct {
	Property  string       `json:"property"`
	Value     device.Value `json:"value"`
	Priority  string       `json:"priority,omitempty"`
	Retries   int          `json:"retries,omitempty"`
	TimeoutMs int          `json:"timeout_ms,omitempty"`
}

// handleCommand enqueues one property write for a device.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Property == "" {
		writeValidationError(w, "property is required")
		return
	}

	priority := transport.PriorityNormal
	if req.Priority != "" {
		p, err := transport.ParsePriority(req.Priority)
		if err != nil {
			writeValidationError(w, "invalid priority: "+req.Priority)
			return
		}
		priority = p
	}

	cmd := transport.NewCommand(id, req.Property, req.Value, priority,
		req.Retries, time.Duration(req.TimeoutMs)*time.Millisecond)
	if err := s.dispatcher.Submit(cmd); err != nil {
		if errors.Is(err, device.ErrPropertyNotWritable) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, "submitting command: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": cmd.ID,
		"device_id":  id,
		"property":   req.Property,
		"priority":   priority.String(),
	})
}

// handleQueryStatus refreshes a device's state from its transport.
func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.dispatcher.QueryStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, cache.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   res.Err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, res.Device)
}

// handleDeviceHistory returns the bounded in-memory history for one
// property, oldest first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	property := chi.URLParam(r, "property")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.states.HistoryFor(id, property, limit)
	if err != nil {
		switch {
		case errors.Is(err, cache.ErrDeviceNotFound):
			writeNotFound(w, "device not found: "+id)
		case errors.Is(err, cache.ErrPropertyNotFound):
			writeNotFound(w, "property not found: "+property)
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"property":  property,
		"entries":   entries,
		"count":     len(entries),
	})
}

// handleDiscover sweeps all connected transports and returns what they
// found. Discovered devices are already merged into the cache.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found := s.dispatcher.DiscoverAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": found,
		"count":   len(found),
	})
}
