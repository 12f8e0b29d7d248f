package room

// assignRole validates a requested role against the format's slot table
// and the currently occupied counts. It never reassigns to a different
// role: a full or unknown slot surfaces as slot_unavailable.
func assignRole(f Format, occupied map[Role]int, requested Role) (Role, error) {
	capacity, ok := f.SlotCapacity(requested)
	if !ok {
		return "", NewError(CodeSlotUnavailable, "format %q has no role %q", f.Name, requested)
	}
	// Capacity 0 means unbounded (audience).
	if capacity > 0 && occupied[requested] >= capacity {
		return "", NewError(CodeSlotUnavailable, "role %q is full", requested)
	}
	return requested, nil
}

// releaseRole frees one occupancy of a role slot.
func releaseRole(occupied map[Role]int, r Role) {
	if occupied[r] > 1 {
		occupied[r]--
		return
	}
	delete(occupied, r)
}

// debatersPresent reports whether every unique speaking slot referenced by
// the format's phases is occupied. Start is rejected until this holds.
func debatersPresent(f Format, occupied map[Role]int) bool {
	for _, ph := range f.Phases {
		if occupied[ph.Speaker] == 0 {
			return false
		}
	}
	return true
}

// otherDebater returns the opposing debater slot for yield/reclaim inside
// an interruptible phase.
func otherDebater(r Role) (Role, bool) {
	switch r {
	case RoleDebaterA:
		return RoleDebaterB, true
	case RoleDebaterB:
		return RoleDebaterA, true
	default:
		return "", false
	}
}
