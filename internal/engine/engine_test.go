package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"andchange/internal/config"
	"andchange/internal/db"
	"andchange/internal/domain"
	"andchange/internal/engine"
	"andchange/internal/migrate"
	"andchange/internal/plan"
	"andchange/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-42")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-42", "org-1", "Rollout", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	if _, err := eng.CreateRecipient(ctx, "proj-42", "IG-1", "impacted_group", "Warehouse staff", "tester"); err != nil {
		t.Fatalf("create recipient: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) createAction(t *testing.T, name string, cooldown int) domain.Action {
	t.Helper()
	a, err := env.Engine.CreateAction(env.Ctx, domain.Action{
		OrgID:        "org-1",
		Name:         name,
		Category:     "AWARENESS",
		EntityKind:   "impacted_group",
		CooldownDays: cooldown,
	}, "tester")
	if err != nil {
		t.Fatalf("create action %s: %v", name, err)
	}
	return a
}

func (env testEnv) createRangePlan(t *testing.T) plan.Plan {
	t.Helper()
	p, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{
		ProjectID:       "proj-42",
		AdditiveProcess: false,
		Selective: map[string]map[string]engine.DateRange{
			"IG-1": {"AWARENESS": {StartDate: "2024-01-01", EndDate: "2024-01-31"}},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return p
}

func TestCreatePlanSelectiveRange(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slots := p.Groups["IG-1"]["AWARENESS"]
	if len(slots) == 0 {
		t.Fatalf("expected vacant slots for IG-1 AWARENESS")
	}
	for _, s := range slots {
		if s.SlotState != "VACANT" {
			t.Fatalf("expected VACANT, got %s", s.SlotState)
		}
		if s.AOID != plan.PendingAOID {
			t.Fatalf("expected pending aoID, got %s", s.AOID)
		}
		d, ok := plan.ParseDate(s.SlotDate)
		if !ok {
			t.Fatalf("bad slot date %q", s.SlotDate)
		}
		if d.Before(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || d.After(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("slot date %s outside range", s.SlotDate)
		}
	}
	if len(p.ProjectHealth) != 0 || len(p.Hygiene) != 0 {
		t.Fatalf("selective generation should not touch other manifests")
	}
}

func TestCreatePlanDefaultGeneration(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{ProjectID: "proj-42", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	for _, category := range plan.Categories() {
		if len(p.Groups["IG-1"][category]) == 0 {
			t.Fatalf("expected %s slots for IG-1", category)
		}
		if len(p.ProjectHealth[category]) == 0 {
			t.Fatalf("expected %s project health slots", category)
		}
	}
	if len(p.Hygiene) == 0 {
		t.Fatalf("expected hygiene slots")
	}
}

func TestCreatePlanReplaceRetiresOpenSlots(t *testing.T) {
	env := newTestEnv(t)
	first := env.createRangePlan(t)
	firstCount := len(plan.Flatten(first))

	second := env.createRangePlan(t)
	if second.ID != first.ID {
		t.Fatalf("expected the same plan, got %d then %d", first.ID, second.ID)
	}
	rows := plan.Flatten(second)
	if len(rows) != firstCount*2 {
		t.Fatalf("expected retired slots to remain, got %d rows", len(rows))
	}
	deleted := 0
	for _, row := range rows {
		if row.Slot.SlotState == "DELETED" {
			deleted++
		}
	}
	if deleted != firstCount {
		t.Fatalf("expected %d retired slots, got %d", firstCount, deleted)
	}
}

func TestCreatePlanAdditiveKeepsSlots(t *testing.T) {
	env := newTestEnv(t)
	first := env.createRangePlan(t)
	firstCount := len(plan.Flatten(first))

	second, err := env.Engine.CreatePlan(env.Ctx, engine.PlanCreateOptions{
		ProjectID:       "proj-42",
		AdditiveProcess: true,
		Selective: map[string]map[string]engine.DateRange{
			"IG-1": {"BUYIN": {StartDate: "2024-02-01", EndDate: "2024-02-14"}},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("additive plan: %v", err)
	}
	for _, row := range plan.Flatten(second) {
		if row.Slot.SlotState == "DELETED" {
			t.Fatalf("additive generation must not retire slots")
		}
	}
	if len(second.Groups["IG-1"]["AWARENESS"]) != firstCount {
		t.Fatalf("existing slots lost")
	}
	if len(second.Groups["IG-1"]["BUYIN"]) == 0 {
		t.Fatalf("expected new BUYIN slots")
	}
}

func TestSlotLifecycleAndCompletedImmutability(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slot := p.Groups["IG-1"]["AWARENESS"][0]
	a := env.createAction(t, "Kickoff mail", 0)

	s, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "ACCEPTED", ActionID: &a.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if s.SlotState != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED, got %s", s.SlotState)
	}
	if s.AOID != plan.AOIDForAction(a.ID) {
		t.Fatalf("expected aoID for action %d, got %s", a.ID, s.AOID)
	}

	s, err = env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "COMPLETED", ActorID: "tester"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.SlotState != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s", s.SlotState)
	}

	_, err = env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotDate: "2024-06-01", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected date change rejected on completed slot")
	}
	s, err = env.Engine.Repo.GetSlot(env.Ctx, slot.ID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if s.SlotDate != slot.SlotDate || s.SlotState != "COMPLETED" {
		t.Fatalf("completed slot changed: %s %s", s.SlotDate, s.SlotState)
	}
}

func TestAcceptedRequiresAction(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slot := p.Groups["IG-1"]["AWARENESS"][0]
	_, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "ACCEPTED", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected accept without action to fail")
	}
}

func TestBackwardTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slot := p.Groups["IG-1"]["AWARENESS"][0]
	a := env.createAction(t, "Kickoff", 0)
	if _, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "ACCEPTED", ActionID: &a.ID, ActorID: "tester"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "VACANT", ActorID: "tester"}); err == nil {
		t.Fatalf("expected backward transition rejected")
	}
	if _, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "DELETED", ActorID: "tester"}); err != nil {
		t.Fatalf("delete from accepted: %v", err)
	}
}

func TestSlotOptionsCooldownAndBatch(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slots := p.Groups["IG-1"]["AWARENESS"]
	if len(slots) < 2 {
		t.Fatalf("need at least two slots")
	}
	used := env.createAction(t, "Recently used", 30)
	fresh := env.createAction(t, "Fresh option", 30)
	if _, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slots[0].ID, SlotState: "ACCEPTED", ActionID: &used.ID, ActorID: "tester"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	options, err := env.Engine.SlotOptions(env.Ctx, slots[1].ID)
	if err != nil {
		t.Fatalf("slot options: %v", err)
	}
	if len(options) > env.Engine.Config.Planning.OptionBatchSize {
		t.Fatalf("options exceed batch size: %d", len(options))
	}
	for _, o := range options {
		if o.ID == used.ID {
			t.Fatalf("cooldown action offered")
		}
	}
	found := false
	for _, o := range options {
		if o.ID == fresh.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected fresh action among options")
	}
}

func TestGenerateContentRequiresSlotIDs(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GenerateContent(env.Ctx, engine.GenerateContentOptions{ActorID: "tester"}); err == nil {
		t.Fatalf("expected missing slot ids rejected")
	}
	if _, err := env.Engine.GenerateContent(env.Ctx, engine.GenerateContentOptions{SlotIDs: []int64{0}, ActorID: "tester"}); err == nil {
		t.Fatalf("expected zero slot id rejected")
	}
}

func TestGenerateContentTransitionsAndAppends(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slot := p.Groups["IG-1"]["AWARENESS"][0]
	a := env.createAction(t, "Newsletter", 0)
	if _, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "ACCEPTED", ActionID: &a.ID, ActorID: "tester"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	records, err := env.Engine.GenerateContent(env.Ctx, engine.GenerateContentOptions{SlotIDs: []int64{slot.ID}, ActorID: "tester"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	text, err := plan.ParseGeneratedResult(records[0].ResultJSON)
	if err != nil || text == "" {
		t.Fatalf("unreadable result: %q %v", text, err)
	}
	s, err := env.Engine.Repo.GetSlot(env.Ctx, slot.ID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if s.SlotState != "CONTENT_GENERATED" {
		t.Fatalf("expected CONTENT_GENERATED, got %s", s.SlotState)
	}

	// regeneration appends, never overwrites
	if _, err := env.Engine.GenerateContent(env.Ctx, engine.GenerateContentOptions{SlotIDs: []int64{slot.ID}, ActorID: "tester"}); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	bySlot, err := env.Engine.ContentForSlots(env.Ctx, []int64{slot.ID, 99999})
	if err != nil {
		t.Fatalf("content for slots: %v", err)
	}
	if len(bySlotRecords(bySlot, slot.ID)) != 2 {
		t.Fatalf("expected two records")
	}
	if len(bySlotRecords(bySlot, 99999)) != 0 {
		t.Fatalf("expected empty list for unknown slot")
	}
}

func bySlotRecords(m map[int64][]domain.ContentRecord, id int64) []domain.ContentRecord {
	return m[id]
}

func TestGenerateContentNeedsAcceptedSlot(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slot := p.Groups["IG-1"]["AWARENESS"][0]
	if _, err := env.Engine.GenerateContent(env.Ctx, engine.GenerateContentOptions{SlotIDs: []int64{slot.ID}, ActorID: "tester"}); err == nil {
		t.Fatalf("expected vacant slot rejected")
	}
}

func TestPlanByProjectNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.PlanByProject(env.Ctx, "proj-42"); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	env.createRangePlan(t)
	p, err := env.Engine.PlanByProject(env.Ctx, "proj-42")
	if err != nil {
		t.Fatalf("plan by project: %v", err)
	}
	if p.ProjectID != "proj-42" {
		t.Fatalf("unexpected project %s", p.ProjectID)
	}
}

func TestUpdatePlanBatch(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slots := p.Groups["IG-1"]["AWARENESS"]
	a := env.createAction(t, "Batch action", 0)
	updated, err := env.Engine.UpdatePlan(env.Ctx, p.ID, []engine.SlotUpdate{
		{SlotID: slots[0].ID, SlotState: "MOOTED"},
		{SlotID: slots[1].ID, SlotState: "ACCEPTED", ActionID: &a.ID},
	}, "tester")
	if err != nil {
		t.Fatalf("update plan: %v", err)
	}
	states := map[int64]string{}
	for _, row := range plan.Flatten(updated) {
		states[row.Slot.ID] = row.Slot.SlotState
	}
	if states[slots[0].ID] != "MOOTED" || states[slots[1].ID] != "ACCEPTED" {
		t.Fatalf("batch update not applied: %v", states)
	}
}

func TestSlotEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	p := env.createRangePlan(t)
	slot := p.Groups["IG-1"]["AWARENESS"][0]
	a := env.createAction(t, "Evented", 0)
	if _, err := env.Engine.UpdateSlot(env.Ctx, engine.SlotUpdate{SlotID: slot.ID, SlotState: "ACCEPTED", ActionID: &a.ID, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE type='slot.update'`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count == 0 {
		t.Fatalf("expected slot.update events")
	}
}

func TestHygieneActionHasNoCategory(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAction(env.Ctx, domain.Action{
		OrgID:      "org-1",
		Name:       "Plan hygiene review",
		EntityKind: "hygiene",
	}, "tester")
	if err != nil {
		t.Fatalf("create hygiene action: %v", err)
	}
	got, err := env.Engine.Repo.GetAction(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Category != "" {
		t.Fatalf("expected empty category, got %q", got.Category)
	}
	if _, err := env.Engine.CreateAction(env.Ctx, domain.Action{
		OrgID:      "org-1",
		Name:       "Mislabeled",
		EntityKind: "hygiene",
		Category:   "AWARENESS",
	}, "tester"); err == nil {
		t.Fatalf("expected category on hygiene action rejected")
	}
	if _, err := env.Engine.CreateAction(env.Ctx, domain.Action{
		OrgID:      "org-1",
		Name:       "Uncategorized",
		EntityKind: "impacted_group",
	}, "tester"); err == nil {
		t.Fatalf("expected missing category rejected")
	}
}

func TestCreateActionWritesAuditEvent(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAction(t, "Audited", 0)
	row := env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM events WHERE type='action.create' AND entity_id=?`, fmt.Sprintf("%d", a.ID))
	var count int
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one action.create event, got %d", count)
	}
}
