package trigger

import (
	"log"

	"syncbridge/internal/metadata"
	"syncbridge/internal/wire"
)

// RuleSource lists the rules eligible to fire.
type RuleSource interface {
	ActiveTriggerRules() []*metadata.TriggerRule
}

// MatchRules returns the active rules whose target type and event flag match
// the change. A rule whose condition cannot be evaluated is skipped.
func MatchRules(rules RuleSource, entity *metadata.Entity, ev wire.EventType, data map[string]any) []*metadata.TriggerRule {
	var matched []*metadata.TriggerRule
	for _, r := range rules.ActiveTriggerRules() {
		if !r.MatchesType(entity) || !r.Fires(ev) {
			continue
		}
		ok, err := r.ConditionHolds(map[string]any{
			"record": data,
			"event":  string(ev),
			"entity": entity.Name,
		})
		if err != nil {
			log.Printf("WARN: trigger rule %s skipped: %v", r.Name, err)
			continue
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched
}
