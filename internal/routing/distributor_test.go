package routing

import (
	"reflect"
	"testing"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

func member(ext string, active bool, kind string, priority int) database.MemberSnapshot {
	return database.MemberSnapshot{
		Extension: models.Extension{Extension: ext, Active: active, Kind: kind},
		Priority:  priority,
	}
}

func TestDistributeFiltersMembers(t *testing.T) {
	g := &models.RingGroup{Strategy: models.StrategySimultaneous, RingTimeout: 25}
	members := []database.MemberSnapshot{
		member("100", true, models.ExtensionKindUser, 1),
		member("101", false, models.ExtensionKindUser, 2),
		member("102", true, models.ExtensionKindConference, 3),
		member("103", true, models.ExtensionKindUser, 4),
	}

	dist := Distribute(g, members, 0)
	want := []string{"100", "103"}
	if !reflect.DeepEqual(dist.Extensions, want) {
		t.Errorf("got %v, want %v", dist.Extensions, want)
	}
	if dist.Sequential {
		t.Error("simultaneous distribution must not be sequential")
	}
	if dist.Timeout != 25 {
		t.Errorf("timeout: got %d, want 25", dist.Timeout)
	}
}

func TestDistributeSimultaneousRingsEveryoneOnce(t *testing.T) {
	g := &models.RingGroup{Strategy: models.StrategySimultaneous}
	members := []database.MemberSnapshot{
		member("100", true, models.ExtensionKindUser, 1),
		member("101", true, models.ExtensionKindUser, 2),
		member("102", true, models.ExtensionKindUser, 3),
	}

	dist := Distribute(g, members, 0)
	seen := make(map[string]int)
	for _, e := range dist.Extensions {
		seen[e]++
	}
	for _, e := range []string{"100", "101", "102"} {
		if seen[e] != 1 {
			t.Errorf("extension %s rung %d times, want exactly once", e, seen[e])
		}
	}
}

func TestDistributeSequentialKeepsPriorityOrder(t *testing.T) {
	g := &models.RingGroup{Strategy: models.StrategySequential, RingTurns: 2}
	members := []database.MemberSnapshot{
		member("100", true, models.ExtensionKindUser, 1),
		member("101", true, models.ExtensionKindUser, 2),
		member("102", true, models.ExtensionKindUser, 3),
	}

	dist := Distribute(g, members, 0)
	want := []string{"100", "101", "102"}
	if !reflect.DeepEqual(dist.Extensions, want) {
		t.Errorf("got %v, want %v", dist.Extensions, want)
	}
	if !dist.Sequential {
		t.Error("expected sequential distribution")
	}
	if dist.Turns != 2 {
		t.Errorf("turns: got %d, want 2", dist.Turns)
	}
}

func TestDistributeRoundRobinRotates(t *testing.T) {
	g := &models.RingGroup{Strategy: models.StrategyRoundRobin}
	members := []database.MemberSnapshot{
		member("100", true, models.ExtensionKindUser, 1),
		member("101", true, models.ExtensionKindUser, 2),
		member("102", true, models.ExtensionKindUser, 3),
	}

	tests := []struct {
		offset int
		want   []string
	}{
		{0, []string{"100", "101", "102"}},
		{1, []string{"101", "102", "100"}},
		{2, []string{"102", "100", "101"}},
		{3, []string{"100", "101", "102"}}, // wraps
	}
	for _, tt := range tests {
		dist := Distribute(g, members, tt.offset)
		if !reflect.DeepEqual(dist.Extensions, tt.want) {
			t.Errorf("offset %d: got %v, want %v", tt.offset, dist.Extensions, tt.want)
		}
	}
}

func TestDistributeEmptyAfterFiltering(t *testing.T) {
	g := &models.RingGroup{Strategy: models.StrategyRoundRobin}
	members := []database.MemberSnapshot{
		member("100", false, models.ExtensionKindUser, 1),
	}

	dist := Distribute(g, members, 5)
	if len(dist.Extensions) != 0 {
		t.Errorf("expected empty distribution, got %v", dist.Extensions)
	}
}

func TestDistributeUnknownStrategyFallsBackToSimultaneous(t *testing.T) {
	g := &models.RingGroup{Strategy: "mystery"}
	members := []database.MemberSnapshot{
		member("100", true, models.ExtensionKindUser, 1),
		member("101", true, models.ExtensionKindUser, 2),
	}

	dist := Distribute(g, members, 0)
	if len(dist.Extensions) != 2 || dist.Sequential {
		t.Errorf("unexpected distribution: %+v", dist)
	}
}
