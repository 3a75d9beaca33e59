package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"kitcore/pkg/domain"
)

func actor() domain.Actor {
	return domain.Actor{UserID: "u1", UserName: "Avery", Role: "Owner"}
}

func seedTeamAndItem(t *testing.T, store *Store) (domain.Team, domain.Item) {
	t.Helper()
	var team domain.Team
	var item domain.Item
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		team, err = tx.CreateTeam(domain.Team{Name: "Supply"})
		if err != nil {
			return err
		}
		item, err = tx.CreateItem(domain.Item{TeamID: team.ID, Name: "Compass", AuthQuantity: 2, OHQuantity: 2}, actor())
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return team, item
}

func TestTransactionRollbackOnError(t *testing.T) {
	store := NewStore(nil)
	team, _ := seedTeamAndItem(t, store)

	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateItem(domain.Item{TeamID: team.ID, Name: "Ghost"}, actor()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if items := store.ListTeamItems(team.ID); len(items) != 1 {
		t.Fatalf("expected rollback to discard the new item, got %d items", len(items))
	}
}

type blockAllRule struct{}

func (blockAllRule) Name() string { return "block-everything" }

func (blockAllRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for range changes {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "block-everything",
			Severity: domain.SeverityBlock,
			Message:  "blocked",
		})
	}
	return res, nil
}

func TestTransactionRollbackOnBlockingRule(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAllRule{})
	store := NewStore(engine)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTeam(domain.Team{Name: "Blocked"})
		return err
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if _, ok := store.GetTeamByName("Blocked"); ok {
		t.Fatalf("expected blocked transaction to leave no state behind")
	}
}

func TestCommittedItemsAreIsolatedFromCallers(t *testing.T) {
	store := NewStore(nil)
	team, item := seedTeamAndItem(t, store)

	got, ok := store.GetItem(team.ID, item.ID)
	if !ok {
		t.Fatalf("expected item to exist")
	}
	got.Name = "Mutated"
	got.UpdateLog[0].Action = "tampered"

	again, _ := store.GetItem(team.ID, item.ID)
	if again.Name != "Compass" || again.UpdateLog[0].Action != "create" {
		t.Fatalf("expected store copies to be isolated, got %+v", again)
	}
}

func TestSetClockControlsTimestamps(t *testing.T) {
	store := NewStore(nil)
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	_, item := seedTeamAndItem(t, store)
	if !item.CreatedAt.Equal(fixed) || !item.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected fixed timestamps, got %v / %v", item.CreatedAt, item.UpdatedAt)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewStore(nil)
	team, item := seedTeamAndItem(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.PutMembership(domain.Membership{TeamID: team.ID, UserID: "u1", Role: "Owner"}); err != nil {
			return err
		}
		if _, err := tx.PutUser(domain.User{Sub: "sub-1", Username: "avery"}); err != nil {
			return err
		}
		_, err := tx.PutRole(domain.Role{Name: "Owner", Permissions: []string{"item.read"}})
		return err
	})
	if err != nil {
		t.Fatalf("seed extras: %v", err)
	}

	restored := NewStore(nil)
	restored.ImportState(store.ExportState())

	if _, ok := restored.GetItem(team.ID, item.ID); !ok {
		t.Fatalf("expected item to survive the round trip")
	}
	if _, ok := restored.GetTeamByName("Supply"); !ok {
		t.Fatalf("expected name index rebuilt on import")
	}
	if teams := restored.ListUserTeams("u1"); len(teams) != 1 || teams[0].ID != team.ID {
		t.Fatalf("expected membership index rebuilt, got %+v", teams)
	}
	if _, ok := restored.GetUserBySub("sub-1"); !ok {
		t.Fatalf("expected user to survive the round trip")
	}
	if _, ok := restored.GetRole("owner"); !ok {
		t.Fatalf("expected role lookup to stay case-insensitive after import")
	}
}

func TestSnapshotPreservesCreationOrder(t *testing.T) {
	store := NewStore(nil)
	team, _ := seedTeamAndItem(t, store)
	for i := 0; i < 5; i++ {
		_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			_, err := tx.CreateItem(domain.Item{TeamID: team.ID, Name: fmt.Sprintf("Item %d", i)}, actor())
			return err
		})
		if err != nil {
			t.Fatalf("create item %d: %v", i, err)
		}
	}

	restored := NewStore(nil)
	restored.ImportState(store.ExportState())

	original := store.ListTeamItems(team.ID)
	roundTripped := restored.ListTeamItems(team.ID)
	if len(original) != len(roundTripped) {
		t.Fatalf("expected %d items, got %d", len(original), len(roundTripped))
	}
	for i := range original {
		if original[i].ID != roundTripped[i].ID {
			t.Fatalf("expected creation order preserved at %d", i)
		}
	}
}

func TestDeleteTeamRemovesMembershipsAndItems(t *testing.T) {
	store := NewStore(nil)
	team, _ := seedTeamAndItem(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutMembership(domain.Membership{TeamID: team.ID, UserID: "u1", Role: "Owner"})
		return err
	})
	if err != nil {
		t.Fatalf("add member: %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteTeam(team.ID)
	})
	if err != nil {
		t.Fatalf("delete team: %v", err)
	}

	if items := store.ListTeamItems(team.ID); len(items) != 0 {
		t.Fatalf("expected team items removed, got %d", len(items))
	}
	if teams := store.ListUserTeams("u1"); len(teams) != 0 {
		t.Fatalf("expected membership index cleaned, got %+v", teams)
	}
	if _, ok := store.GetTeamByName("Supply"); ok {
		t.Fatalf("expected name index entry removed")
	}
}
