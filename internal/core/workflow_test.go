package core

import (
	"context"
	"errors"
	"testing"

	"kitcore/pkg/domain"
)

// buildKitFixture creates kit -> subkit -> grandchild plus a direct child,
// returning the created items keyed by name.
func buildKitFixture(t *testing.T, svc *Service, teamID string) map[string]Item {
	t.Helper()
	kit := seedItem(t, svc, teamID, func(it *Item) {
		it.Name = "Main Kit"
		it.IsKit = true
	})
	child := seedItem(t, svc, teamID, func(it *Item) {
		it.Name = "Direct Child"
		it.Parent = &kit.ID
	})
	subkit := seedItem(t, svc, teamID, func(it *Item) {
		it.Name = "Sub Kit"
		it.IsKit = true
		it.Parent = &kit.ID
	})
	grandchild := seedItem(t, svc, teamID, func(it *Item) {
		it.Name = "Grandchild"
		it.Parent = &subkit.ID
	})
	return map[string]Item{
		"kit": kit, "child": child, "subkit": subkit, "grandchild": grandchild,
	}
}

func TestApplyStatusCascadesThreeLevels(t *testing.T) {
	svc := newTestService(t)
	team := seedTeam(t, svc)
	fixture := buildKitFixture(t, svc, team.ID)

	updated, failures, err := svc.ApplyStatus(context.Background(), team.ID, fixture["kit"].ID, StatusCompleted, nil, ownerActor())
	if err != nil {
		t.Fatalf("apply status: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no cascade failures, got %+v", failures)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("expected kit status updated, got %q", updated.Status)
	}
	for _, name := range []string{"child", "subkit", "grandchild"} {
		it, err := svc.GetItem(context.Background(), team.ID, fixture[name].ID)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		if it.Status != StatusCompleted {
			t.Fatalf("expected %s cascaded to Completed, got %q", name, it.Status)
		}
		last := it.UpdateLog[len(it.UpdateLog)-1]
		if last.Action != "review - completed" {
			t.Fatalf("expected %s review log entry, got %q", name, last.Action)
		}
	}
}

func TestApplyStatusSameStatusIsNoOp(t *testing.T) {
	svc := newTestService(t)
	team := seedTeam(t, svc)
	fixture := buildKitFixture(t, svc, team.ID)

	before, err := svc.GetItem(context.Background(), team.ID, fixture["child"].ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}

	// Kits start as To Review; re-applying it must write nothing at all.
	kit, failures, err := svc.ApplyStatus(context.Background(), team.ID, fixture["kit"].ID, StatusToReview, nil, ownerActor())
	if err != nil {
		t.Fatalf("apply status: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no failures on no-op, got %+v", failures)
	}
	if len(kit.UpdateLog) != len(fixture["kit"].UpdateLog) {
		t.Fatalf("expected no new log entries on the kit")
	}
	after, err := svc.GetItem(context.Background(), team.ID, fixture["child"].ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if len(after.UpdateLog) != len(before.UpdateLog) || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("expected descendants untouched on no-op")
	}
}

func TestApplyStatusNonKitRejected(t *testing.T) {
	svc := newTestService(t)
	team := seedTeam(t, svc)
	item := seedItem(t, svc, team.ID, nil)

	_, _, err := svc.ApplyStatus(context.Background(), team.ID, item.ID, StatusCompleted, nil, ownerActor())
	if err == nil {
		t.Fatalf("expected non-kit apply to fail")
	}
}

func TestApplyStatusDamagedCascadesWithoutChildReports(t *testing.T) {
	svc := newTestService(t)
	team := seedTeam(t, svc)
	fixture := buildKitFixture(t, svc, team.ID)

	reports := []string{"water damage across kit"}
	_, failures, err := svc.ApplyStatus(context.Background(), team.ID, fixture["kit"].ID, StatusDamaged, reports, ownerActor())
	if err != nil {
		t.Fatalf("apply damaged: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected cascade writes to bypass the report requirement, got %+v", failures)
	}

	kit, err := svc.GetItem(context.Background(), team.ID, fixture["kit"].ID)
	if err != nil {
		t.Fatalf("get kit: %v", err)
	}
	if len(kit.DamageReports) != 1 {
		t.Fatalf("expected report attached to the kit, got %+v", kit.DamageReports)
	}

	grandchild, err := svc.GetItem(context.Background(), team.ID, fixture["grandchild"].ID)
	if err != nil {
		t.Fatalf("get grandchild: %v", err)
	}
	if grandchild.Status != StatusDamaged {
		t.Fatalf("expected grandchild cascaded to Damaged, got %q", grandchild.Status)
	}
	if len(grandchild.DamageReports) != 0 {
		t.Fatalf("expected grandchild to carry no reports, got %+v", grandchild.DamageReports)
	}
}

func TestApplyStatusCollectsShortageFailures(t *testing.T) {
	svc := newTestService(t)
	team := seedTeam(t, svc)
	kit := seedItem(t, svc, team.ID, func(it *Item) {
		it.Name = "Kit"
		it.IsKit = true
	})
	// Full quantity: cascading Shortages onto it must fail the shortage rule.
	full := seedItem(t, svc, team.ID, func(it *Item) {
		it.Name = "Full Item"
		it.Parent = &kit.ID
		it.AuthQuantity = 4
		it.OHQuantity = 4
	})
	// Deficit: cascade succeeds.
	short := seedItem(t, svc, team.ID, func(it *Item) {
		it.Name = "Short Item"
		it.Parent = &kit.ID
		it.AuthQuantity = 4
		it.OHQuantity = 2
	})

	updated, failures, err := svc.ApplyStatus(context.Background(), team.ID, kit.ID, StatusShortages, nil, ownerActor())
	if err != nil {
		t.Fatalf("apply shortages: %v", err)
	}
	if updated.Status != StatusShortages {
		t.Fatalf("expected parent update to commit, got %q", updated.Status)
	}
	if len(failures) != 1 || failures[0].ItemID != full.ID {
		t.Fatalf("expected single failure for the full item, got %+v", failures)
	}
	if failures[0].Err == nil {
		t.Fatalf("expected failure to carry the rule error")
	}

	shortAfter, err := svc.GetItem(context.Background(), team.ID, short.ID)
	if err != nil {
		t.Fatalf("get short item: %v", err)
	}
	if shortAfter.Status != StatusShortages {
		t.Fatalf("expected deficit sibling cascaded despite the failure, got %q", shortAfter.Status)
	}
	fullAfter, err := svc.GetItem(context.Background(), team.ID, full.ID)
	if err != nil {
		t.Fatalf("get full item: %v", err)
	}
	if fullAfter.Status != StatusToReview {
		t.Fatalf("expected failed child left unchanged, got %q", fullAfter.Status)
	}
}

func TestApplyStatusKitNotFound(t *testing.T) {
	svc := newTestService(t)
	team := seedTeam(t, svc)
	_, _, err := svc.ApplyStatus(context.Background(), team.ID, "missing", StatusCompleted, nil, ownerActor())
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
