package domain

import "strings"

// Key is the two-part primary key of a row in the single logical table.
type Key struct {
	PK string
	SK string
}

// RecordKeys carries the primary key plus every secondary-index key a row may
// populate. Empty index keys mean the row does not appear in that index.
type RecordKeys struct {
	Key
	// GSI1 answers "all teams a given user belongs to".
	GSI1PK string
	GSI1SK string
	// GSI6 answers "user record by external identity subject".
	GSI6PK string
	GSI6SK string
	// GSIName answers "team by exact lowercase name" for uniqueness checks.
	GSIName string
	// GSINSN answers cross-team National Stock Number search.
	GSINSN string
}

// Key prefixes of the single-table layout. Derivation is pure and idempotent:
// the same logical identifier always yields the same key, and no derivation
// reads from storage.
const (
	teamPrefix   = "TEAM#"
	itemPrefix   = "ITEM#"
	memberPrefix = "MEMBER#"
	userPrefix   = "USER#"
	uidPrefix    = "UID#"
	rolePrefix   = "ROLE#"
	metadataSK   = "METADATA"
)

// ItemKey derives the primary key of an item row. Team-scoped listing is a
// range query on the team partition with the ItemSKPrefix.
func ItemKey(teamID, itemID string) Key {
	return Key{PK: teamPrefix + teamID, SK: itemPrefix + itemID}
}

// ItemSKPrefix is the sort-key prefix shared by every item row of a team.
func ItemSKPrefix() string { return itemPrefix }

// ItemRecordKeys derives the full key set of an item row, including the NSN
// index entry when the item carries a National Stock Number.
func ItemRecordKeys(it Item) RecordKeys {
	keys := RecordKeys{Key: ItemKey(it.TeamID, it.ID)}
	if it.NSN != "" {
		keys.GSINSN = it.NSN
	}
	return keys
}

// TeamKey derives the primary key of a team metadata row.
func TeamKey(teamID string) Key {
	return Key{PK: teamPrefix + teamID, SK: metadataSK}
}

// TeamRecordKeys derives the full key set of a team row. The name index holds
// the lowercased team name so uniqueness checks are a single exact-match query.
func TeamRecordKeys(t Team) RecordKeys {
	return RecordKeys{
		Key:     TeamKey(t.ID),
		GSIName: NormalizeTeamName(t.Name),
	}
}

// NormalizeTeamName lowercases and trims a team name for the uniqueness index.
func NormalizeTeamName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MembershipKey derives the primary key of a team membership row.
func MembershipKey(teamID, userID string) Key {
	return Key{PK: teamPrefix + teamID, SK: memberPrefix + userID}
}

// MembershipRecordKeys derives the full key set of a membership row. GSI1
// inverts the relation so "teams of user X" is one range query.
func MembershipRecordKeys(m Membership) RecordKeys {
	return RecordKeys{
		Key:    MembershipKey(m.TeamID, m.UserID),
		GSI1PK: userPrefix + m.UserID,
		GSI1SK: teamPrefix + m.TeamID,
	}
}

// UserKey derives the primary key of a user row.
func UserKey(sub string) Key {
	return Key{PK: userPrefix + sub, SK: metadataSK}
}

// UserRecordKeys derives the full key set of a user row, including the
// identity-subject index used to resolve authenticated callers.
func UserRecordKeys(u User) RecordKeys {
	return RecordKeys{
		Key:    UserKey(u.Sub),
		GSI6PK: uidPrefix + u.Sub,
		GSI6SK: userPrefix + u.Sub,
	}
}

// RoleKey derives the primary key of a role row. Role names are uppercased so
// lookup is case-insensitive at the key level.
func RoleKey(name string) Key {
	return Key{PK: rolePrefix + strings.ToUpper(name), SK: metadataSK}
}

// RoleRecordKeys derives the full key set of a role row.
func RoleRecordKeys(r Role) RecordKeys {
	return RecordKeys{Key: RoleKey(r.Name)}
}
