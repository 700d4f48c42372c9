package room

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// RoomType categorises a room for UI grouping and defaults.
type RoomType string

const (
	RoomLiving   RoomType = "living"
	RoomBedroom  RoomType = "bedroom"
	RoomKitchen  RoomType = "kitchen"
	RoomBathroom RoomType = "bathroom"
	RoomStudy    RoomType = "study"
	RoomHallway  RoomType = "hallway"
	RoomBalcony  RoomType = "balcony"
	RoomGarage   RoomType = "garage"
	RoomOutdoor  RoomType = "outdoor"
	RoomOther    RoomType = "other"
)

// AllRoomTypes returns all valid room types.
func AllRoomTypes() []RoomType {
	return []RoomType{
		RoomLiving, RoomBedroom, RoomKitchen, RoomBathroom, RoomStudy,
		RoomHallway, RoomBalcony, RoomGarage, RoomOutdoor, RoomOther,
	}
}

// Room is a physical space devices are assigned to. Zone is a free-form
// grouping above rooms ("upstairs", "outside").
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        RoomType  `json:"type"`
	Zone        string    `json:"zone,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupType defines how a device group resolves its members.
type GroupType string

const (
	// GroupStatic resolves from the explicit member list only.
	GroupStatic GroupType = "static"

	// GroupDynamic resolves from membership conditions only.
	GroupDynamic GroupType = "dynamic"

	// GroupHybrid resolves from conditions unioned with explicit
	// members.
	GroupHybrid GroupType = "hybrid"
)

// ConditionLogic combines a group's conditions.
type ConditionLogic string

const (
	LogicAll ConditionLogic = "all"
	LogicAny ConditionLogic = "any"
)

// Condition is one membership rule evaluated against a cached device.
// Empty fields are ignored; the set fields are ANDed.
type Condition struct {
	// Type matches the device type exactly.
	Type device.DeviceType `json:"type,omitempty"`

	// Capability requires the device to declare a capability.
	Capability device.Capability `json:"capability,omitempty"`

	// Property compares a property value for equality.
	Property string       `json:"property,omitempty"`
	Equals   device.Value `json:"equals,omitempty"`

	// Online filters by online state when set.
	Online *bool `json:"online,omitempty"`
}

// DeviceGroup is a named, resolvable collection of devices.
type DeviceGroup struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        GroupType   `json:"type"`
	DeviceIDs   []string    `json:"device_ids"`
	RoomIDs     []string    `json:"room_ids,omitempty"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Logic       ConditionLogic `json:"logic,omitempty"`
	Icon        string      `json:"icon,omitempty"`
	Description string      `json:"description,omitempty"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// GenerateID returns a new unique identifier for rooms and groups.
func GenerateID() string {
	return uuid.New().String()
}

// ValidateRoom checks a room definition.
func ValidateRoom(r *Room) error {
	if r == nil {
		return fmt.Errorf("%w: nil room", ErrInvalidRoom)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRoom)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRoom)
	}
	if !validRoomType(r.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRoom, r.Type)
	}
	return nil
}

// ValidateGroup checks a group definition against its resolution type.
func ValidateGroup(g *DeviceGroup) error {
	if g == nil {
		return fmt.Errorf("%w: nil group", ErrInvalidGroup)
	}
	if g.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidGroup)
	}
	if g.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidGroup)
	}
	switch g.Type {
	case GroupStatic:
		if len(g.DeviceIDs) == 0 {
			return fmt.Errorf("%w: static group needs explicit members", ErrInvalidGroup)
		}
	case GroupDynamic:
		if len(g.Conditions) == 0 && len(g.RoomIDs) == 0 {
			return fmt.Errorf("%w: dynamic group needs conditions or rooms", ErrInvalidGroup)
		}
	case GroupHybrid:
		if len(g.DeviceIDs) == 0 || (len(g.Conditions) == 0 && len(g.RoomIDs) == 0) {
			return fmt.Errorf("%w: hybrid group needs members and conditions", ErrInvalidGroup)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidGroup, g.Type)
	}
	if g.Logic != "" && g.Logic != LogicAll && g.Logic != LogicAny {
		return fmt.Errorf("%w: unknown logic %q", ErrInvalidGroup, g.Logic)
	}
	return nil
}

func validRoomType(t RoomType) bool {
	for _, v := range AllRoomTypes() {
		if t == v {
			return true
		}
	}
	return false
}
