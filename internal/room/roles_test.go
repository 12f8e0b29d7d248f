package room

import "testing"

func testFormat() Format {
	return Format{
		Name: "test",
		Roles: []RoleSlot{
			{Name: RoleDebaterA, Capacity: 1},
			{Name: RoleDebaterB, Capacity: 1},
			{Name: RoleJudge, Capacity: 2},
			{Name: RoleAudience, Capacity: 0},
		},
		Phases: []Phase{
			{Name: "opening-a", Speaker: RoleDebaterA, Duration: 60e9},
			{Name: "opening-b", Speaker: RoleDebaterB, Duration: 60e9},
		},
	}
}

func TestAssignRoleUniqueSlot(t *testing.T) {
	f := testFormat()
	occupied := map[Role]int{}

	role, err := assignRole(f, occupied, RoleDebaterA)
	if err != nil {
		t.Fatalf("assignRole: %v", err)
	}
	if role != RoleDebaterA {
		t.Fatalf("got role %q, want %q", role, RoleDebaterA)
	}
	occupied[role]++

	if _, err := assignRole(f, occupied, RoleDebaterA); err == nil {
		t.Fatal("expected slot_unavailable for occupied unique slot")
	} else if ErrorCode(err) != CodeSlotUnavailable {
		t.Fatalf("got code %q, want %q", ErrorCode(err), CodeSlotUnavailable)
	}
}

func TestAssignRoleCappedSlot(t *testing.T) {
	f := testFormat()
	occupied := map[Role]int{RoleJudge: 2}

	if _, err := assignRole(f, occupied, RoleJudge); ErrorCode(err) != CodeSlotUnavailable {
		t.Fatalf("expected slot_unavailable at judge cap, got %v", err)
	}
}

func TestAssignRoleUnboundedAudience(t *testing.T) {
	f := testFormat()
	occupied := map[Role]int{RoleAudience: 1000}

	if _, err := assignRole(f, occupied, RoleAudience); err != nil {
		t.Fatalf("audience should be unbounded, got %v", err)
	}
}

func TestAssignRoleUnknownRole(t *testing.T) {
	f := testFormat()
	if _, err := assignRole(f, map[Role]int{}, Role("moderator")); ErrorCode(err) != CodeSlotUnavailable {
		t.Fatalf("expected slot_unavailable for unknown role, got %v", err)
	}
}

func TestReleaseRole(t *testing.T) {
	occupied := map[Role]int{RoleJudge: 2, RoleDebaterA: 1}

	releaseRole(occupied, RoleJudge)
	if occupied[RoleJudge] != 1 {
		t.Fatalf("judge count = %d, want 1", occupied[RoleJudge])
	}
	releaseRole(occupied, RoleDebaterA)
	if _, ok := occupied[RoleDebaterA]; ok {
		t.Fatal("debater-a should be fully released")
	}
}

func TestDebatersPresent(t *testing.T) {
	f := testFormat()
	if debatersPresent(f, map[Role]int{RoleDebaterA: 1}) {
		t.Fatal("missing debater-b should not count as present")
	}
	if !debatersPresent(f, map[Role]int{RoleDebaterA: 1, RoleDebaterB: 1}) {
		t.Fatal("both debaters filled should count as present")
	}
}

func TestOtherDebater(t *testing.T) {
	if other, ok := otherDebater(RoleDebaterA); !ok || other != RoleDebaterB {
		t.Fatalf("otherDebater(debater-a) = %q, %v", other, ok)
	}
	if _, ok := otherDebater(RoleJudge); ok {
		t.Fatal("judge has no opposing debater")
	}
}
