package scene

import "errors"

// Domain errors for the scene package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, scene.ErrSceneNotFound) {
//	    // handle not found case
//	}
var (
	// ErrSceneNotFound is returned when a scene ID does not exist.
	ErrSceneNotFound = errors.New("scene: not found")

	// ErrSceneExists is returned when creating a scene with an ID that
	// already exists.
	ErrSceneExists = errors.New("scene: already exists")

	// ErrInvalidScene is returned when scene validation fails.
	ErrInvalidScene = errors.New("scene: invalid")

	// ErrInvalidTrigger is returned when a trigger definition is
	// malformed.
	ErrInvalidTrigger = errors.New("scene: invalid trigger")

	// ErrInvalidAction is returned when an action definition is
	// malformed.
	ErrInvalidAction = errors.New("scene: invalid action")

	// ErrEngineStopped is returned when executing through a stopped
	// engine.
	ErrEngineStopped = errors.New("scene: engine stopped")
)
