package room

import "errors"

// Domain errors for the room package.
var (
	// ErrRoomNotFound is returned when a room ID does not exist.
	ErrRoomNotFound = errors.New("room: not found")

	// ErrRoomExists is returned when creating a room with an ID that
	// already exists.
	ErrRoomExists = errors.New("room: already exists")

	// ErrInvalidRoom is returned when room validation fails.
	ErrInvalidRoom = errors.New("room: invalid")

	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("room: group not found")

	// ErrGroupExists is returned when creating a group with an ID that
	// already exists.
	ErrGroupExists = errors.New("room: group already exists")

	// ErrInvalidGroup is returned when group validation fails.
	ErrInvalidGroup = errors.New("room: invalid group")
)
