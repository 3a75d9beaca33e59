package core

import (
	"context"

	"kitcore/pkg/domain"
)

// DamageReportRule blocks direct transitions to "Damaged" when no damage
// report is attached. Cascade writes are exempt: a descendant swept into
// "Damaged" by an ancestor kit is written with an empty report list rather
// than blocking the cascade.
func DamageReportRule() domain.Rule {
	return damageReportRule{}
}

type damageReportRule struct{}

func (damageReportRule) Name() string { return "damage-report-required" }

func (damageReportRule) Evaluate(_ context.Context, _ domain.RuleView, changes []Change) (Result, error) {
	var result Result
	for _, change := range changes {
		if change.Entity != EntityItem {
			continue
		}
		if change.Action != ActionCreate && change.Action != ActionUpdate {
			continue
		}
		after, ok := itemAfter(change)
		if !ok {
			continue
		}
		if after.Status == StatusDamaged && len(after.DamageReports) == 0 {
			result.Violations = append(result.Violations, Violation{
				Rule:     "damage-report-required",
				Severity: domain.SeverityBlock,
				Field:    "damage_reports",
				Message:  "status Damaged requires at least one damage report",
				Entity:   EntityItem,
				EntityID: after.ID,
			})
		}
	}
	return result, nil
}
