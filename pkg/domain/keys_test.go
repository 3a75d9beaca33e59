package domain

import "testing"

func TestItemKeyDerivation(t *testing.T) {
	key := ItemKey("team-1", "item-9")
	if key.PK != "TEAM#team-1" {
		t.Fatalf("expected item PK TEAM#team-1, got %q", key.PK)
	}
	if key.SK != "ITEM#item-9" {
		t.Fatalf("expected item SK ITEM#item-9, got %q", key.SK)
	}
	if ItemKey("team-1", "item-9") != key {
		t.Fatalf("expected key derivation to be deterministic")
	}
}

func TestItemRecordKeysNSNIndex(t *testing.T) {
	withNSN := ItemRecordKeys(Item{ID: "i1", TeamID: "t1", NSN: "1005-01-231"})
	if withNSN.GSINSN != "1005-01-231" {
		t.Fatalf("expected NSN index entry, got %q", withNSN.GSINSN)
	}
	withoutNSN := ItemRecordKeys(Item{ID: "i2", TeamID: "t1"})
	if withoutNSN.GSINSN != "" {
		t.Fatalf("expected no NSN index entry for blank NSN, got %q", withoutNSN.GSINSN)
	}
}

func TestTeamRecordKeys(t *testing.T) {
	keys := TeamRecordKeys(Team{ID: "t1", Name: "  Alpha Team "})
	if keys.PK != "TEAM#t1" || keys.SK != "METADATA" {
		t.Fatalf("unexpected team key %+v", keys.Key)
	}
	if keys.GSIName != "alpha team" {
		t.Fatalf("expected lowercased trimmed name index, got %q", keys.GSIName)
	}
}

func TestMembershipRecordKeysInvertedIndex(t *testing.T) {
	keys := MembershipRecordKeys(Membership{TeamID: "t1", UserID: "u1"})
	if keys.PK != "TEAM#t1" || keys.SK != "MEMBER#u1" {
		t.Fatalf("unexpected membership key %+v", keys.Key)
	}
	if keys.GSI1PK != "USER#u1" || keys.GSI1SK != "TEAM#t1" {
		t.Fatalf("expected inverted membership index, got %q/%q", keys.GSI1PK, keys.GSI1SK)
	}
}

func TestUserRecordKeysSubjectIndex(t *testing.T) {
	keys := UserRecordKeys(User{Sub: "abc-123"})
	if keys.PK != "USER#abc-123" || keys.SK != "METADATA" {
		t.Fatalf("unexpected user key %+v", keys.Key)
	}
	if keys.GSI6PK != "UID#abc-123" || keys.GSI6SK != "USER#abc-123" {
		t.Fatalf("expected subject index, got %q/%q", keys.GSI6PK, keys.GSI6SK)
	}
}

func TestRoleKeyUppercases(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"owner", "ROLE#OWNER"},
		{"Owner", "ROLE#OWNER"},
		{"MANAGER", "ROLE#MANAGER"},
	}
	for _, tc := range cases {
		key := RoleKey(tc.name)
		if key.PK != tc.want {
			t.Fatalf("RoleKey(%q): expected PK %q, got %q", tc.name, tc.want, key.PK)
		}
		if key.SK != "METADATA" {
			t.Fatalf("RoleKey(%q): expected METADATA SK, got %q", tc.name, key.SK)
		}
	}
}
