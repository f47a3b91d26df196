package plan

import "fmt"

// Slot lifecycle states. The progression runs VACANT through COMPLETED;
// DELETED is reachable from any non-COMPLETED state. COMPLETED and DELETED
// are terminal.
const (
	StateVacant           = "VACANT"
	StateMooted           = "MOOTED"
	StateAccepted         = "ACCEPTED"
	StateContentGenerated = "CONTENT_GENERATED"
	StateCompleted        = "COMPLETED"
	StateDeleted          = "DELETED"
)

// States returns the six canonical slot states in lifecycle order.
func States() []string {
	return []string{StateVacant, StateMooted, StateAccepted, StateContentGenerated, StateCompleted, StateDeleted}
}

var stateRank = map[string]int{
	StateVacant:           0,
	StateMooted:           1,
	StateAccepted:         2,
	StateContentGenerated: 3,
	StateCompleted:        4,
}

// IsTerminal reports whether a slot in the given state accepts no further changes.
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateDeleted
}

// ValidState reports whether s is one of the six canonical states.
func ValidState(s string) bool {
	if s == StateDeleted {
		return true
	}
	_, ok := stateRank[s]
	return ok
}

// EnsureSlotTransition validates a slot state change. Forward moves may skip
// intermediate states (an operator can complete an accepted slot directly).
// Terminal states reject everything.
func EnsureSlotTransition(oldState, newState string) error {
	if !ValidState(newState) {
		return fmt.Errorf("unknown slot state %s", newState)
	}
	if oldState == newState {
		return nil
	}
	if IsTerminal(oldState) {
		return fmt.Errorf("slot is %s and cannot change state", oldState)
	}
	if newState == StateDeleted {
		return nil
	}
	oldRank, ok := stateRank[oldState]
	if !ok {
		return fmt.Errorf("unknown slot state %s", oldState)
	}
	if stateRank[newState] < oldRank {
		return fmt.Errorf("invalid slot state transition %s -> %s", oldState, newState)
	}
	return nil
}

// ABSUP categories in canonical ladder order.
const (
	CategoryAwareness   = "AWARENESS"
	CategoryBuyIn       = "BUYIN"
	CategorySkill       = "SKILL"
	CategoryUse         = "USE"
	CategoryProficiency = "PROFICIENCY"
)

// Categories returns the ABSUP ladder in canonical order.
func Categories() []string {
	return []string{CategoryAwareness, CategoryBuyIn, CategorySkill, CategoryUse, CategoryProficiency}
}

// ValidCategory reports whether c is an ABSUP category.
func ValidCategory(c string) bool {
	for _, k := range Categories() {
		if k == c {
			return true
		}
	}
	return false
}

// Recipient entity kinds. The first three carry a per-entity manifest axis;
// project_health groups by category only and hygiene is a flat list.
const (
	EntityImpactedGroup   = "impacted_group"
	EntityManagerOfPeople = "manager_of_people"
	EntitySponsor         = "sponsor"
	EntityProjectHealth   = "project_health"
	EntityHygiene         = "hygiene"
)

// EntityKinds returns all entity kinds a slot can belong to.
func EntityKinds() []string {
	return []string{EntityImpactedGroup, EntityManagerOfPeople, EntitySponsor, EntityProjectHealth, EntityHygiene}
}

// ValidEntityKind reports whether k names a known entity kind.
func ValidEntityKind(k string) bool {
	for _, e := range EntityKinds() {
		if e == k {
			return true
		}
	}
	return false
}

// PendingAOID is the action-option placeholder carried by a slot until an
// action is accepted for it.
const PendingAOID = "AO-PENDING"

// AOIDForAction returns the stable action-option identifier for a chosen action.
func AOIDForAction(actionID int64) string {
	return fmt.Sprintf("AO-%d", actionID)
}
