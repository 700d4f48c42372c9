package room

import (
	"sort"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// Resolver expands device groups into concrete member lists using live
// device state from the cache.
type Resolver struct {
	states *cache.StateCache
}

// NewResolver creates a group resolver over the state cache.
func NewResolver(states *cache.StateCache) *Resolver {
	return &Resolver{states: states}
}

// Resolve returns the current members of a group, sorted by device ID.
// Static members that are not in the cache are dropped; a group never
// resolves to devices the control plane does not know.
func (r *Resolver) Resolve(g *DeviceGroup) []device.Device {
	seen := make(map[string]device.Device)

	if g.Type == GroupStatic || g.Type == GroupHybrid {
		for _, id := range g.DeviceIDs {
			if dev, err := r.states.Get(id); err == nil {
				seen[id] = *dev
			}
		}
	}

	if g.Type == GroupDynamic || g.Type == GroupHybrid {
		for _, dev := range r.candidates(g) {
			if r.matches(g, &dev) {
				seen[dev.DID] = dev
			}
		}
	}

	out := make([]device.Device, 0, len(seen))
	for _, dev := range seen {
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out
}

// ResolveIDs returns just the member IDs of a group.
func (r *Resolver) ResolveIDs(g *DeviceGroup) []string {
	members := r.Resolve(g)
	ids := make([]string, len(members))
	for i, dev := range members {
		ids[i] = dev.DID
	}
	return ids
}

// candidates narrows the search space to the group's rooms, or the
// whole cache when no rooms are set.
func (r *Resolver) candidates(g *DeviceGroup) []device.Device {
	if len(g.RoomIDs) == 0 {
		return r.states.ListAll()
	}
	var out []device.Device
	for _, roomID := range g.RoomIDs {
		out = append(out, r.states.ListByRoom(roomID)...)
	}
	return out
}

// matches evaluates the group's conditions against one device. With no
// conditions a room-scoped dynamic group admits every room member.
// Logic decides whether all conditions must hold or any one suffices;
// unset logic means all.
func (r *Resolver) matches(g *DeviceGroup, dev *device.Device) bool {
	if len(g.Conditions) == 0 {
		return true
	}
	for _, cond := range g.Conditions {
		hit := conditionHolds(cond, dev)
		if g.Logic == LogicAny {
			if hit {
				return true
			}
			continue
		}
		if !hit {
			return false
		}
	}
	return g.Logic != LogicAny
}

func conditionHolds(cond Condition, dev *device.Device) bool {
	if cond.Type != "" && dev.Type != cond.Type {
		return false
	}
	if cond.Capability != "" && !dev.HasCapability(cond.Capability) {
		return false
	}
	if cond.Online != nil && dev.Online != *cond.Online {
		return false
	}
	if cond.Property != "" {
		prop, ok := dev.Properties[cond.Property]
		if !ok || !prop.Value.Equal(cond.Equals) {
			return false
		}
	}
	return true
}
