package core

import (
	"context"

	"kitcore/pkg/domain"
)

// ShortageQuantityRule blocks transitions to "Shortages" on a non-kit item
// whose on-hand quantity has not fallen below the authorized quantity. Kits
// carry no quantities and are exempt. Unlike the damage-report rule this one
// also applies to cascade writes; a failing descendant write is collected by
// the cascade rather than blocking the parent.
func ShortageQuantityRule() domain.Rule {
	return shortageQuantityRule{}
}

type shortageQuantityRule struct{}

func (shortageQuantityRule) Name() string { return "shortage-quantity" }

func (shortageQuantityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	var result Result
	for _, change := range changes {
		if change.Entity != EntityItem || change.Action == ActionDelete {
			continue
		}
		after, ok := itemAfter(change)
		if !ok {
			continue
		}
		if after.Status == StatusShortages && !after.IsKit && after.OHQuantity >= after.AuthQuantity {
			result.Violations = append(result.Violations, Violation{
				Rule:     "shortage-quantity",
				Severity: domain.SeverityBlock,
				Field:    "oh_quantity",
				Message:  "status Shortages requires oh_quantity below auth_quantity",
				Entity:   EntityItem,
				EntityID: after.ID,
			})
		}
	}
	return result, nil
}
