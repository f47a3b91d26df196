package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"andchange/internal/config"
	"andchange/internal/domain"
	"andchange/internal/events"
	"andchange/internal/plan"
	"andchange/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitProject creates the project, its organization if missing, and the
// default planning config.
func (e Engine) InitProject(ctx context.Context, projectID, orgID, name, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if orgID == "" {
		orgID = "default"
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id,name,created_at) VALUES (?,?,?)`,
		orgID, orgID, now); err != nil {
		return domain.Project{}, fmt.Errorf("insert organization: %w", err)
	}
	p := domain.Project{
		ID:          projectID,
		OrgID:       orgID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   now,
	}
	if p.Name == "" {
		p.Name = projectID
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,org_id,name,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// CreateRecipient registers an impacted group, manager of people, or sponsor
// for a project.
func (e Engine) CreateRecipient(ctx context.Context, projectID, id, kind, name, actorID string) (domain.Recipient, error) {
	if name == "" {
		return domain.Recipient{}, errors.New("name is required")
	}
	if !plan.ValidEntityKind(kind) || kind == plan.EntityProjectHealth || kind == plan.EntityHygiene {
		return domain.Recipient{}, fmt.Errorf("invalid recipient kind %q", kind)
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Recipient{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(projectID+"|"+kind+"|"+name+"|"+now)).String()
	}
	rc := domain.Recipient{ID: id, ProjectID: projectID, Kind: kind, Name: name, CreatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recipient{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO recipients(id,project_id,kind,name,created_at) VALUES (?,?,?,?,?)`,
		rc.ID, rc.ProjectID, rc.Kind, rc.Name, rc.CreatedAt); err != nil {
		return domain.Recipient{}, fmt.Errorf("insert recipient: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "recipient.create", projectID, "recipient", rc.ID, actorID, events.EventPayload{"kind": kind, "name": name}); err != nil {
		return domain.Recipient{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Recipient{}, err
	}
	return rc, nil
}

// CreateAction adds a catalog entry for an organization.
func (e Engine) CreateAction(ctx context.Context, a domain.Action, actorID string) (domain.Action, error) {
	if a.OrgID == "" {
		return domain.Action{}, errors.New("org is required")
	}
	if a.Name == "" {
		return domain.Action{}, errors.New("name is required")
	}
	if !plan.ValidEntityKind(a.EntityKind) {
		return domain.Action{}, fmt.Errorf("invalid entity kind %q", a.EntityKind)
	}
	if a.EntityKind == plan.EntityHygiene {
		if a.Category != "" {
			return domain.Action{}, fmt.Errorf("invalid category %q: hygiene actions have none", a.Category)
		}
	} else {
		if a.Category == "" {
			return domain.Action{}, fmt.Errorf("category is required for %s actions", a.EntityKind)
		}
		if !plan.ValidCategory(a.Category) {
			return domain.Action{}, fmt.Errorf("invalid category %q", a.Category)
		}
	}
	if a.Phase == "" {
		a.Phase = "manage"
	}
	if a.Medium == "" {
		a.Medium = "digital"
	}
	if a.CooldownDays < 0 {
		return domain.Action{}, errors.New("cooldown must not be negative")
	}
	a.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertActionTx(ctx, tx, a)
	if err != nil {
		return domain.Action{}, fmt.Errorf("insert action: %w", err)
	}
	a.ID = id
	if err := e.Events.Append(ctx, tx, "action.create", "", "action", fmt.Sprintf("%d", id), actorID, events.EventPayload{"org_id": a.OrgID, "name": a.Name}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// DateRange bounds slot generation for one manifest cell.
type DateRange struct {
	StartDate string
	EndDate   string
}

// PlanCreateOptions are parameters for creating or regenerating a plan.
// Selective maps recipient ID to category to range; when every generation
// field is empty the whole plan is generated over the configured horizon.
type PlanCreateOptions struct {
	ProjectID       string
	AdditiveProcess bool
	Selective       map[string]map[string]DateRange
	ProjectHealth   map[string]DateRange
	Hygiene         *DateRange
	ActorID         string
}

func (o PlanCreateOptions) selectiveOnly() bool {
	return len(o.Selective) > 0 || len(o.ProjectHealth) > 0 || o.Hygiene != nil
}

// CreatePlan creates the project's plan or regenerates it. With
// AdditiveProcess new slots are layered over the existing ones; without it
// every open slot of the existing plan is first marked DELETED.
func (e Engine) CreatePlan(ctx context.Context, opts PlanCreateOptions) (plan.Plan, error) {
	if e.Config == nil {
		return plan.Plan{}, errors.New("config not loaded")
	}
	if opts.ProjectID == "" {
		return plan.Plan{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return plan.Plan{}, err
	}
	recipients, err := e.Repo.ListRecipients(ctx, opts.ProjectID, "")
	if err != nil {
		return plan.Plan{}, err
	}
	byID := make(map[string]domain.Recipient, len(recipients))
	for _, rc := range recipients {
		byID[rc.ID] = rc
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return plan.Plan{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	ap, err := e.Repo.GetPlanByProjectTx(ctx, tx, opts.ProjectID)
	switch {
	case err == nil:
		if !opts.AdditiveProcess {
			if _, err := e.Repo.RetireOpenSlotsTx(ctx, tx, ap.ID, now); err != nil {
				return plan.Plan{}, fmt.Errorf("retire open slots: %w", err)
			}
		}
		if err := e.Repo.TouchPlanTx(ctx, tx, ap.ID, now); err != nil {
			return plan.Plan{}, err
		}
	case errors.Is(err, repo.ErrNotFound):
		ap = domain.ActionPlan{ProjectID: opts.ProjectID, State: "active", CreatedAt: now, UpdatedAt: now}
		ap.ID, err = e.Repo.InsertPlanTx(ctx, tx, ap)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("insert plan: %w", err)
		}
	default:
		return plan.Plan{}, err
	}

	slots, err := e.generateSlots(opts, recipients, byID, ap.ID, now)
	if err != nil {
		return plan.Plan{}, err
	}
	for _, s := range slots {
		if _, err := e.Repo.InsertSlotTx(ctx, tx, s); err != nil {
			return plan.Plan{}, fmt.Errorf("insert slot: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "plan.create", opts.ProjectID, "plan", fmt.Sprintf("%d", ap.ID), opts.ActorID,
		events.EventPayload{"additive": opts.AdditiveProcess, "slots": len(slots)}); err != nil {
		return plan.Plan{}, err
	}
	if err := tx.Commit(); err != nil {
		return plan.Plan{}, err
	}
	return e.LoadPlan(ctx, ap.ID)
}

func (e Engine) generateSlots(opts PlanCreateOptions, recipients []domain.Recipient, byID map[string]domain.Recipient, planID int64, now string) ([]domain.Slot, error) {
	var slots []domain.Slot
	add := func(entityKind, entityID, category string, r DateRange, step int) error {
		dates, err := e.slotDates(r, step)
		if err != nil {
			return err
		}
		for _, d := range dates {
			slots = append(slots, domain.Slot{
				PlanID:     planID,
				EntityKind: entityKind,
				EntityID:   entityID,
				Category:   category,
				AOID:       plan.PendingAOID,
				SlotDate:   d,
				SlotState:  plan.StateVacant,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		return nil
	}

	if opts.selectiveOnly() {
		for entityID, categories := range opts.Selective {
			rc, ok := byID[entityID]
			if !ok {
				return nil, fmt.Errorf("recipient %s: %w", entityID, repo.ErrNotFound)
			}
			for category, r := range categories {
				if !plan.ValidCategory(category) {
					return nil, fmt.Errorf("invalid category %q", category)
				}
				if err := add(rc.Kind, rc.ID, category, r, e.cadence(category)); err != nil {
					return nil, err
				}
			}
		}
		for category, r := range opts.ProjectHealth {
			if !plan.ValidCategory(category) {
				return nil, fmt.Errorf("invalid category %q", category)
			}
			if err := add(plan.EntityProjectHealth, "", category, r, e.cadence(category)); err != nil {
				return nil, err
			}
		}
		if opts.Hygiene != nil {
			if err := add(plan.EntityHygiene, "", "", *opts.Hygiene, e.Config.Planning.HygieneIntervalDays); err != nil {
				return nil, err
			}
		}
		return slots, nil
	}

	horizon := DateRange{
		StartDate: e.now().UTC().Format(plan.DateLayout),
		EndDate:   e.now().UTC().AddDate(0, 0, e.Config.Planning.HorizonDays).Format(plan.DateLayout),
	}
	for _, rc := range recipients {
		for _, category := range plan.Categories() {
			if err := add(rc.Kind, rc.ID, category, horizon, e.cadence(category)); err != nil {
				return nil, err
			}
		}
	}
	for _, category := range plan.Categories() {
		if err := add(plan.EntityProjectHealth, "", category, horizon, e.cadence(category)); err != nil {
			return nil, err
		}
	}
	if err := add(plan.EntityHygiene, "", "", horizon, e.Config.Planning.HygieneIntervalDays); err != nil {
		return nil, err
	}
	return slots, nil
}

func (e Engine) cadence(category string) int {
	if d, ok := e.Config.Planning.CadenceDays[category]; ok && d > 0 {
		return d
	}
	return 7
}

func (e Engine) slotDates(r DateRange, step int) ([]string, error) {
	start, ok := plan.ParseDate(r.StartDate)
	if !ok {
		return nil, fmt.Errorf("invalid start date %q", r.StartDate)
	}
	end, ok := plan.ParseDate(r.EndDate)
	if !ok {
		return nil, fmt.Errorf("invalid end date %q", r.EndDate)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", r.EndDate, r.StartDate)
	}
	if step <= 0 {
		step = 7
	}
	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, step) {
		dates = append(dates, d.Format(plan.DateLayout))
	}
	return dates, nil
}

// LoadPlan returns the plan with all slots arranged into manifests.
func (e Engine) LoadPlan(ctx context.Context, planID int64) (plan.Plan, error) {
	ap, err := e.Repo.GetPlan(ctx, planID)
	if err != nil {
		return plan.Plan{}, err
	}
	slots, err := e.Repo.ListSlotsByPlan(ctx, planID)
	if err != nil {
		return plan.Plan{}, err
	}
	return plan.Build(ap, slots), nil
}

// PlanByProject returns the project's plan, or repo.ErrNotFound when the
// project has none yet.
func (e Engine) PlanByProject(ctx context.Context, projectID string) (plan.Plan, error) {
	ap, err := e.Repo.GetPlanByProject(ctx, projectID)
	if err != nil {
		return plan.Plan{}, err
	}
	return e.LoadPlan(ctx, ap.ID)
}

// SlotUpdate carries one slot mutation. Empty SlotDate and SlotState leave
// the field unchanged; ActionID nil leaves the assignment unchanged.
type SlotUpdate struct {
	SlotID    int64
	SlotDate  string
	SlotState string
	ActionID  *int64
	ActorID   string
}

// UpdateSlot applies a state transition and/or reschedule to one slot.
// COMPLETED and DELETED slots reject every change, which keeps slot dates
// immutable once completed.
func (e Engine) UpdateSlot(ctx context.Context, upd SlotUpdate) (domain.Slot, error) {
	if upd.SlotID <= 0 {
		return domain.Slot{}, errors.New("slot id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Slot{}, err
	}
	defer tx.Rollback()

	s, err := e.applySlotUpdateTx(ctx, tx, upd)
	if err != nil {
		return domain.Slot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Slot{}, err
	}
	return s, nil
}

func (e Engine) applySlotUpdateTx(ctx context.Context, tx *sql.Tx, upd SlotUpdate) (domain.Slot, error) {
	s, err := e.Repo.GetSlotTx(ctx, tx, upd.SlotID)
	if err != nil {
		return domain.Slot{}, err
	}
	dateChanged := upd.SlotDate != "" && upd.SlotDate != s.SlotDate
	stateChanged := upd.SlotState != "" && upd.SlotState != s.SlotState
	actionChanged := upd.ActionID != nil && (s.ActionID == nil || *s.ActionID != *upd.ActionID)
	if plan.IsTerminal(s.SlotState) {
		if dateChanged || stateChanged || actionChanged {
			return domain.Slot{}, fmt.Errorf("slot %d is %s and cannot change", s.ID, s.SlotState)
		}
		return s, nil
	}
	if !dateChanged && !stateChanged && !actionChanged {
		return s, nil
	}

	prevState := s.SlotState
	newState := s.SlotState
	if upd.SlotState != "" {
		if !plan.ValidState(upd.SlotState) {
			return domain.Slot{}, fmt.Errorf("invalid slot state %q", upd.SlotState)
		}
		if err := plan.EnsureSlotTransition(s.SlotState, upd.SlotState); err != nil {
			return domain.Slot{}, err
		}
		newState = upd.SlotState
	}
	if dateChanged {
		if _, ok := plan.ParseDate(upd.SlotDate); !ok {
			return domain.Slot{}, fmt.Errorf("invalid slot date %q", upd.SlotDate)
		}
		s.SlotDate = upd.SlotDate
	}
	if upd.ActionID != nil {
		a, err := e.Repo.GetAction(ctx, *upd.ActionID)
		if err != nil {
			return domain.Slot{}, fmt.Errorf("action %d: %w", *upd.ActionID, err)
		}
		if a.EntityKind != s.EntityKind {
			return domain.Slot{}, fmt.Errorf("action %d targets %s, slot is %s", a.ID, a.EntityKind, s.EntityKind)
		}
		if s.Category != "" && a.Category != s.Category {
			return domain.Slot{}, fmt.Errorf("action %d is %s, slot is %s", a.ID, a.Category, s.Category)
		}
		s.ActionID = upd.ActionID
	}
	if rankedAtLeastAccepted(newState) && s.ActionID == nil {
		return domain.Slot{}, fmt.Errorf("slot %d needs an action before %s", s.ID, newState)
	}
	s.SlotState = newState
	if s.ActionID != nil {
		s.AOID = plan.AOIDForAction(*s.ActionID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	s.UpdatedAt = now
	if err := e.Repo.UpdateSlotTx(ctx, tx, s); err != nil {
		return domain.Slot{}, fmt.Errorf("update slot: %w", err)
	}
	if err := e.Repo.TouchPlanTx(ctx, tx, s.PlanID, now); err != nil {
		return domain.Slot{}, err
	}
	ap, err := e.planProjectTx(ctx, tx, s.PlanID)
	if err != nil {
		return domain.Slot{}, err
	}
	if err := e.Events.Append(ctx, tx, "slot.update", ap, "slot", fmt.Sprintf("%d", s.ID), upd.ActorID,
		events.SlotTransition(prevState, s.SlotState, s.SlotDate, s.ActionID)); err != nil {
		return domain.Slot{}, err
	}
	return s, nil
}

func rankedAtLeastAccepted(state string) bool {
	switch state {
	case plan.StateAccepted, plan.StateContentGenerated, plan.StateCompleted:
		return true
	}
	return false
}

func (e Engine) planProjectTx(ctx context.Context, tx *sql.Tx, planID int64) (string, error) {
	var projectID string
	err := tx.QueryRowContext(ctx, `SELECT project_id FROM action_plans WHERE id=?`, planID).Scan(&projectID)
	return projectID, err
}

// UpdatePlan applies a batch of slot updates in one transaction. Updates are
// last-write-wins; there is no version check.
func (e Engine) UpdatePlan(ctx context.Context, planID int64, updates []SlotUpdate, actorID string) (plan.Plan, error) {
	if planID <= 0 {
		return plan.Plan{}, errors.New("plan id required")
	}
	if _, err := e.Repo.GetPlan(ctx, planID); err != nil {
		return plan.Plan{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return plan.Plan{}, err
	}
	defer tx.Rollback()
	for _, upd := range updates {
		upd.ActorID = actorID
		if upd.SlotID <= 0 {
			return plan.Plan{}, errors.New("slot id required")
		}
		s, err := e.Repo.GetSlotTx(ctx, tx, upd.SlotID)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("slot %d: %w", upd.SlotID, err)
		}
		if s.PlanID != planID {
			return plan.Plan{}, fmt.Errorf("slot %d not in plan %d", upd.SlotID, planID)
		}
		if _, err := e.applySlotUpdateTx(ctx, tx, upd); err != nil {
			return plan.Plan{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return plan.Plan{}, err
	}
	return e.LoadPlan(ctx, planID)
}

// SlotOptions returns catalog actions eligible for a slot: matching entity
// kind and category, not blocked by a cooldown from the entity's other live
// slots, capped at the configured batch size in random order.
func (e Engine) SlotOptions(ctx context.Context, slotID int64) ([]domain.Action, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	s, err := e.Repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	ap, err := e.Repo.GetPlan(ctx, s.PlanID)
	if err != nil {
		return nil, err
	}
	p, err := e.Repo.GetProject(ctx, ap.ProjectID)
	if err != nil {
		return nil, err
	}
	candidates, err := e.Repo.ListActions(ctx, repo.ActionFilters{OrgID: p.OrgID, EntityKind: s.EntityKind, Category: s.Category})
	if err != nil {
		return nil, err
	}
	taken, err := e.Repo.ActiveActionSlots(ctx, s.PlanID, s.EntityKind, s.EntityID)
	if err != nil {
		return nil, err
	}
	slotDate, haveDate := plan.ParseDate(s.SlotDate)

	var eligible []domain.Action
	for _, a := range candidates {
		if e.onCooldown(a, taken, slotID, slotDate, haveDate) {
			continue
		}
		eligible = append(eligible, a)
	}
	rng := rand.New(rand.NewSource(e.now().UnixNano()))
	rng.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	if batch := e.Config.Planning.OptionBatchSize; batch > 0 && len(eligible) > batch {
		eligible = eligible[:batch]
	}
	return eligible, nil
}

func (e Engine) onCooldown(a domain.Action, taken []domain.Slot, slotID int64, slotDate time.Time, haveDate bool) bool {
	cooldown := a.CooldownDays
	if cooldown <= 0 {
		cooldown = e.Config.Planning.DefaultCooldownDays
	}
	if cooldown <= 0 {
		return false
	}
	for _, t := range taken {
		if t.ID == slotID || t.ActionID == nil || *t.ActionID != a.ID {
			continue
		}
		if !haveDate {
			return true
		}
		other, ok := plan.ParseDate(t.SlotDate)
		if !ok {
			return true
		}
		gap := slotDate.Sub(other)
		if gap < 0 {
			gap = -gap
		}
		if gap < time.Duration(cooldown)*24*time.Hour {
			return true
		}
	}
	return false
}

// GenerateContentOptions are parameters for generating content records.
type GenerateContentOptions struct {
	SlotIDs []int64
	ActorID string
}

// GenerateContent renders content for each slot and appends an immutable
// record per slot. Every slot ID is validated before any other work starts.
func (e Engine) GenerateContent(ctx context.Context, opts GenerateContentOptions) ([]domain.ContentRecord, error) {
	if len(opts.SlotIDs) == 0 {
		return nil, errors.New("slot id required")
	}
	for _, id := range opts.SlotIDs {
		if id <= 0 {
			return nil, errors.New("slot id required")
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	var records []domain.ContentRecord
	for _, slotID := range opts.SlotIDs {
		s, err := e.Repo.GetSlotTx(ctx, tx, slotID)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", slotID, err)
		}
		if s.SlotState != plan.StateAccepted && s.SlotState != plan.StateContentGenerated {
			return nil, fmt.Errorf("slot %d is %s, content needs an accepted slot", s.ID, s.SlotState)
		}
		if s.ActionID == nil {
			return nil, fmt.Errorf("slot %d needs an action before content", s.ID)
		}
		a, err := e.Repo.GetAction(ctx, *s.ActionID)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", *s.ActionID, err)
		}
		text := e.renderContent(ctx, a, s)
		result, err := plan.EncodeResult(uuid.NewString(), text)
		if err != nil {
			return nil, err
		}
		cr := domain.ContentRecord{SlotID: s.ID, ResultJSON: result, CreatedAt: now}
		cr.ID, err = e.Repo.InsertContentRecordTx(ctx, tx, cr)
		if err != nil {
			return nil, fmt.Errorf("insert content record: %w", err)
		}
		records = append(records, cr)
		if s.SlotState == plan.StateAccepted {
			s.SlotState = plan.StateContentGenerated
			s.UpdatedAt = now
			if err := e.Repo.UpdateSlotTx(ctx, tx, s); err != nil {
				return nil, fmt.Errorf("update slot: %w", err)
			}
		}
		ap, err := e.planProjectTx(ctx, tx, s.PlanID)
		if err != nil {
			return nil, err
		}
		if err := e.Events.Append(ctx, tx, "content.generate", ap, "slot", fmt.Sprintf("%d", s.ID), opts.ActorID,
			events.EventPayload{"record_id": cr.ID}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return records, nil
}

func (e Engine) renderContent(ctx context.Context, a domain.Action, s domain.Slot) string {
	entityName := s.EntityID
	if s.EntityID != "" {
		if rc, err := e.Repo.GetRecipient(ctx, s.EntityID); err == nil {
			entityName = rc.Name
		}
	}
	template := a.ContentTemplate
	if template == "" {
		template = "{{action}} for {{entity}} on {{date}}"
	}
	out := strings.ReplaceAll(template, "{{action}}", a.Name)
	out = strings.ReplaceAll(out, "{{entity}}", entityName)
	out = strings.ReplaceAll(out, "{{date}}", s.SlotDate)
	out = strings.ReplaceAll(out, "{{category}}", s.Category)
	return out
}

// ContentForSlots returns the stored content records per slot. Slots with no
// records map to an empty list.
func (e Engine) ContentForSlots(ctx context.Context, slotIDs []int64) (map[int64][]domain.ContentRecord, error) {
	res := make(map[int64][]domain.ContentRecord, len(slotIDs))
	for _, id := range slotIDs {
		records, err := e.Repo.ListContentRecords(ctx, id)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []domain.ContentRecord{}
		}
		res[id] = records
	}
	return res, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
