package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/room"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// handleListGroups returns all device groups.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.rooms.ListGroups(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleGetGroup returns one group by ID.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	g, err := s.rooms.GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, room.ErrGroupNotFound) {
			writeNotFound(w, "group not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleCreateGroup validates and persists a new device group.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var g room.DeviceGroup
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if g.ID == "" {
		g.ID = room.GenerateID()
	}
	if err := room.ValidateGroup(&g); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.rooms.CreateGroup(r.Context(), &g); err != nil {
		if errors.Is(err, room.ErrGroupExists) {
			writeConflict(w, "group already exists: "+g.ID)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleUpdateGroup replaces a device group.
func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var g room.DeviceGroup
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	g.ID = id
	if err := room.ValidateGroup(&g); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.rooms.UpdateGroup(r.Context(), &g); err != nil {
		if errors.Is(err, room.ErrGroupNotFound) {
			writeNotFound(w, "group not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleDeleteGroup removes a device group.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.rooms.DeleteGroup(r.Context(), id); err != nil {
		if errors.Is(err, room.ErrGroupNotFound) {
			writeNotFound(w, "group not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleGroupDevices resolves a group to its current member devices.
func (s *Server) handleGroupDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	g, err := s.rooms.GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, room.ErrGroupNotFound) {
			writeNotFound(w, "group not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	devices := s.resolver.Resolve(g)
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": id,
		"devices":  devices,
		"count":    len(devices),
	})
}

// handleGroupCommand fans one property write out to every resolved
// member of a group as a single batch.
func (s *Server) handleGroupCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	g, err := s.rooms.GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, room.ErrGroupNotFound) {
			writeNotFound(w, "group not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}

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

	ids := s.resolver.ResolveIDs(g)
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"submitted": 0})
		return
	}

	cmds := make([]transport.Command, 0, len(ids))
	for _, did := range ids {
		cmds = append(cmds, transport.NewCommand(did, req.Property, req.Value,
			priority, req.Retries, time.Duration(req.TimeoutMs)*time.Millisecond))
	}
	if err := s.dispatcher.SubmitBatch(cmds); err != nil {
		if errors.Is(err, device.ErrPropertyNotWritable) {
			writeValidationError(w, err.Error())
			return
		}
		writeInternalError(w, "submitting batch: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"group_id":  id,
		"submitted": len(cmds),
	})
}
