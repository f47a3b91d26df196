package plan_test

import (
	"reflect"
	"testing"

	"andchange/internal/domain"
	"andchange/internal/plan"
)

func TestSlotTransitions(t *testing.T) {
	// forward, including skips
	cases := []struct {
		from, to string
		ok       bool
	}{
		{plan.StateVacant, plan.StateMooted, true},
		{plan.StateMooted, plan.StateAccepted, true},
		{plan.StateAccepted, plan.StateContentGenerated, true},
		{plan.StateContentGenerated, plan.StateCompleted, true},
		{plan.StateAccepted, plan.StateCompleted, true},
		{plan.StateVacant, plan.StateCompleted, true},
		{plan.StateVacant, plan.StateDeleted, true},
		{plan.StateContentGenerated, plan.StateDeleted, true},
		{plan.StateAccepted, plan.StateAccepted, true},
		{plan.StateAccepted, plan.StateVacant, false},
		{plan.StateCompleted, plan.StateDeleted, false},
		{plan.StateCompleted, plan.StateVacant, false},
		{plan.StateDeleted, plan.StateVacant, false},
		{plan.StateDeleted, plan.StateAccepted, false},
		{plan.StateVacant, "SOMETHING_ELSE", false},
	}
	for _, c := range cases {
		err := plan.EnsureSlotTransition(c.from, c.to)
		if c.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", c.from, c.to, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("%s -> %s: expected error", c.from, c.to)
		}
	}
}

func TestStatesCanonical(t *testing.T) {
	want := []string{"VACANT", "MOOTED", "ACCEPTED", "CONTENT_GENERATED", "COMPLETED", "DELETED"}
	if !reflect.DeepEqual(plan.States(), want) {
		t.Fatalf("states = %v", plan.States())
	}
	for _, s := range plan.States() {
		if !plan.ValidState(s) {
			t.Fatalf("state %s not valid", s)
		}
	}
}

func testPlan() plan.Plan {
	ap := domain.ActionPlan{ID: 1, ProjectID: "proj-42", State: "active"}
	slots := []domain.Slot{
		{ID: 3, PlanID: 1, EntityKind: plan.EntityImpactedGroup, EntityID: "IG-1", Category: plan.CategoryAwareness, SlotDate: "2024-03-01", SlotState: plan.StateVacant},
		{ID: 1, PlanID: 1, EntityKind: plan.EntityImpactedGroup, EntityID: "IG-1", Category: plan.CategoryAwareness, SlotDate: "2024-01-01", SlotState: plan.StateVacant},
		{ID: 2, PlanID: 1, EntityKind: plan.EntitySponsor, EntityID: "SP-1", Category: plan.CategoryBuyIn, SlotDate: "not-a-date", SlotState: plan.StateMooted},
		{ID: 4, PlanID: 1, EntityKind: plan.EntityProjectHealth, Category: plan.CategorySkill, SlotDate: "2024-02-01", SlotState: plan.StateVacant},
		{ID: 5, PlanID: 1, EntityKind: plan.EntityHygiene, SlotDate: "2024-01-15", SlotState: plan.StateVacant},
	}
	return plan.Build(ap, slots)
}

func TestFlattenSortsDatesAscendingUnparseableLast(t *testing.T) {
	rows := plan.Flatten(testPlan())
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	gotDates := make([]string, len(rows))
	for i, r := range rows {
		gotDates[i] = r.Slot.SlotDate
	}
	want := []string{"2024-01-01", "2024-01-15", "2024-02-01", "2024-03-01", "not-a-date"}
	if !reflect.DeepEqual(gotDates, want) {
		t.Fatalf("dates = %v, want %v", gotDates, want)
	}
	if rows[4].EntityKind != plan.EntitySponsor {
		t.Fatalf("unparseable row should keep its origin tag, got %s", rows[4].EntityKind)
	}
}

func TestFlattenIdempotent(t *testing.T) {
	p := testPlan()
	first := plan.Flatten(p)
	second := plan.Flatten(p)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated flatten differs:\n%v\n%v", first, second)
	}
}

func TestFlattenTagsOrigin(t *testing.T) {
	rows := plan.Flatten(testPlan())
	for _, r := range rows {
		if !plan.ValidEntityKind(r.EntityKind) {
			t.Fatalf("row %d missing entity kind tag", r.Slot.ID)
		}
		switch r.EntityKind {
		case plan.EntityImpactedGroup, plan.EntityManagerOfPeople, plan.EntitySponsor:
			if r.EntityID == "" {
				t.Fatalf("entity row %d missing entity id", r.Slot.ID)
			}
		case plan.EntityHygiene:
			if r.Category != "" {
				t.Fatalf("hygiene row %d should have no category", r.Slot.ID)
			}
		}
	}
}

func TestParseGeneratedResult(t *testing.T) {
	raw, err := plan.EncodeResult("cmpl-1", "Send the kickoff announcement.")
	if err != nil {
		t.Fatal(err)
	}
	text, err := plan.ParseGeneratedResult(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if text != "Send the kickoff announcement." {
		t.Fatalf("unexpected content %q", text)
	}
}

func TestParseGeneratedResultFallback(t *testing.T) {
	for _, raw := range []string{"", "not json at all", `{"choices":[]}`, `{"choices":[{"message":{"content":""}}]}`} {
		if _, err := plan.ParseGeneratedResult(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
		if got := plan.DisplayText(raw); got != plan.ContentUnavailable {
			t.Fatalf("expected fallback for %q, got %q", raw, got)
		}
	}
}
