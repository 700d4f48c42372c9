package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LzzJustBeYou/rinLink/internal/room"
)

// handleListRooms returns all rooms, optionally filtered by zone.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	var (
		rooms []room.Room
		err   error
	)
	if zone := r.URL.Query().Get("zone"); zone != "" {
		rooms, err = s.rooms.ListRoomsByZone(r.Context(), zone)
	} else {
		rooms, err = s.rooms.ListRooms(r.Context())
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// handleGetRoom returns one room by ID.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rm, err := s.rooms.GetRoom(r.Context(), id)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			writeNotFound(w, "room not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleCreateRoom validates and persists a new room.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var rm room.Room
	if err := json.NewDecoder(r.Body).Decode(&rm); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if rm.ID == "" {
		rm.ID = room.GenerateID()
	}
	if err := room.ValidateRoom(&rm); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.rooms.CreateRoom(r.Context(), &rm); err != nil {
		if errors.Is(err, room.ErrRoomExists) {
			writeConflict(w, "room already exists: "+rm.ID)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rm)
}

// handleUpdateRoom replaces a room.
func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rm room.Room
	if err := json.NewDecoder(r.Body).Decode(&rm); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	rm.ID = id
	if err := room.ValidateRoom(&rm); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.rooms.UpdateRoom(r.Context(), &rm); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			writeNotFound(w, "room not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleDeleteRoom removes a room.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.rooms.DeleteRoom(r.Context(), id); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			writeNotFound(w, "room not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleRoomDevices lists cached devices placed in a room.
func (s *Server) handleRoomDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.rooms.GetRoom(r.Context(), id); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			writeNotFound(w, "room not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	devices := s.states.ListByRoom(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": id,
		"devices": devices,
		"count":   len(devices),
	})
}
