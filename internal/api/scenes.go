package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LzzJustBeYou/rinLink/internal/scene"
)

// handleListScenes returns all scenes, or only active ones with
// ?active=true.
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	var scenes []scene.Scene
	if r.URL.Query().Get("active") == "true" {
		scenes = s.scenes.ListActive()
	} else {
		scenes = s.scenes.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenes": scenes,
		"count":  len(scenes),
	})
}

// handleGetScene returns one scene by ID.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sc, err := s.scenes.Get(id)
	if err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleCreateScene validates and persists a new scene.
func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	var sc scene.Scene
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.scenes.Create(r.Context(), &sc); err != nil {
		switch {
		case errors.Is(err, scene.ErrSceneExists):
			writeConflict(w, "scene already exists: "+sc.ID)
		case errors.Is(err, scene.ErrInvalidScene),
			errors.Is(err, scene.ErrInvalidTrigger),
			errors.Is(err, scene.ErrInvalidAction):
			writeValidationError(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// handleUpdateScene replaces a scene definition. Execution bookkeeping
// is preserved.
func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var sc scene.Scene
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	sc.ID = id

	if err := s.scenes.Update(r.Context(), &sc); err != nil {
		switch {
		case errors.Is(err, scene.ErrSceneNotFound):
			writeNotFound(w, "scene not found: "+id)
		case errors.Is(err, scene.ErrInvalidScene),
			errors.Is(err, scene.ErrInvalidTrigger),
			errors.Is(err, scene.ErrInvalidAction):
			writeValidationError(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleDeleteScene removes a scene.
func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.scenes.Delete(r.Context(), id); err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleExecuteScene runs a scene manually, bypassing its triggers.
func (s *Server) handleExecuteScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.engine == nil {
		writeInternalError(w, "scene engine not running")
		return
	}
	if err := s.engine.Execute(r.Context(), id); err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found: "+id)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"executing": id})
}
