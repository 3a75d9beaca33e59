package core

import "kitcore/pkg/domain"

type (
	EntityType      = domain.EntityType
	ReviewStatus    = domain.ReviewStatus
	Item            = domain.Item
	ItemPatch       = domain.ItemPatch
	Team            = domain.Team
	Membership      = domain.Membership
	User            = domain.User
	Role            = domain.Role
	Actor           = domain.Actor
	Change          = domain.Change
	Action          = domain.Action
	Violation       = domain.Violation
	Result          = domain.Result
	RulesEngine     = domain.RulesEngine
	PersistentStore = domain.PersistentStore
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
)

const (
	EntityItem       = domain.EntityItem
	EntityTeam       = domain.EntityTeam
	EntityMembership = domain.EntityMembership
	EntityUser       = domain.EntityUser
	EntityRole       = domain.EntityRole
)

const (
	StatusToReview  = domain.StatusToReview
	StatusCompleted = domain.StatusCompleted
	StatusDamaged   = domain.StatusDamaged
	StatusShortages = domain.StatusShortages
)

const (
	ActionCreate  = domain.ActionCreate
	ActionUpdate  = domain.ActionUpdate
	ActionCascade = domain.ActionCascade
	ActionDelete  = domain.ActionDelete
)
