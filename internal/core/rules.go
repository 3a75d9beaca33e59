package core

import "kitcore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in review-entry
// validations. Every write, direct or cascaded, passes through it at commit.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(DamageReportRule())
	engine.Register(ShortageQuantityRule())
	return engine
}

func itemAfter(change Change) (Item, bool) {
	it, ok := change.After.(Item)
	return it, ok
}
