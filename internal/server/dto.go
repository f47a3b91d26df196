package server

import (
	"encoding/json"

	"andchange/internal/config"
	"andchange/internal/domain"
	"andchange/internal/plan"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateRecipientRequest struct {
	ID        string `json:"id,omitempty"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind" enum:"impacted_group,manager_of_people,sponsor"`
	Name      string `json:"name"`
}

type CreateActionRequest struct {
	OrgID           string `json:"organizationId"`
	Name            string `json:"name"`
	Category        string `json:"category,omitempty" enum:"AWARENESS,BUYIN,SKILL,USE,PROFICIENCY"`
	EntityType      string `json:"entityType" enum:"impacted_group,manager_of_people,sponsor,project_health,hygiene"`
	Phase           string `json:"phase,omitempty" enum:"prepare,manage,sustain"`
	Medium          string `json:"medium,omitempty" enum:"none,paper,digital,both"`
	WhoSender       string `json:"whoSender,omitempty"`
	WhoReceiver     string `json:"whoReceiver,omitempty"`
	WhoExecutor     string `json:"whoExecutor,omitempty"`
	CooldownDays    int    `json:"cooldownDays,omitempty"`
	Shareable       bool   `json:"shareable,omitempty"`
	Sprint          bool   `json:"sprint,omitempty"`
	ContentTemplate string `json:"contentTemplate,omitempty"`
}

// DateRangeRequest bounds slot generation for one manifest cell.
type DateRangeRequest struct {
	StartDate string `json:"startDate" format:"date"`
	EndDate   string `json:"endDate" format:"date"`
}

// CreateActionPlanRequest creates or regenerates a project's plan. The range
// maps are optional; when all are empty the whole plan is generated over the
// configured horizon.
type CreateActionPlanRequest struct {
	ProjectID          string                                 `json:"projectId"`
	AdditiveProcess    bool                                   `json:"additiveProcess"`
	EntityDateRanges   map[string]map[string]DateRangeRequest `json:"entityDateRanges,omitempty"`
	ProjectHealthDates map[string]DateRangeRequest            `json:"projectHealthDateRanges,omitempty"`
	HygieneDates       *DateRangeRequest                      `json:"hygieneDateRange,omitempty"`
}

type UpdateSlotRequest struct {
	ID        int64  `json:"id"`
	SlotDate  string `json:"slotDate,omitempty" format:"date"`
	SlotState string `json:"slotState,omitempty" enum:"VACANT,MOOTED,ACCEPTED,CONTENT_GENERATED,COMPLETED,DELETED"`
	ActionID  *int64 `json:"actionId,omitempty"`
}

type UpdateActionPlanRequest struct {
	ID    int64               `json:"id"`
	Slots []UpdateSlotRequest `json:"slots"`
}

type GenerateContentRequest struct {
	SlotIDs []int64 `json:"slotIds"`
}

type ContentForSlotsRequest struct {
	SlotIDs []int64 `json:"slotIds"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type RecipientResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind" enum:"impacted_group,manager_of_people,sponsor"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ActionResponse struct {
	ID              int64  `json:"id"`
	OrgID           string `json:"organizationId"`
	Name            string `json:"name"`
	Category        string `json:"category,omitempty" enum:"AWARENESS,BUYIN,SKILL,USE,PROFICIENCY"`
	EntityType      string `json:"entityType" enum:"impacted_group,manager_of_people,sponsor,project_health,hygiene"`
	Phase           string `json:"phase"`
	Medium          string `json:"medium"`
	WhoSender       string `json:"whoSender,omitempty"`
	WhoReceiver     string `json:"whoReceiver,omitempty"`
	WhoExecutor     string `json:"whoExecutor,omitempty"`
	CooldownDays    int    `json:"cooldownDays"`
	Shareable       bool   `json:"shareable"`
	Sprint          bool   `json:"sprint"`
	ContentTemplate string `json:"contentTemplate,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type SlotResponse struct {
	ID         int64  `json:"id"`
	AOID       string `json:"aoID"`
	SlotDate   string `json:"slotDate"`
	SlotState  string `json:"slotState" enum:"VACANT,MOOTED,ACCEPTED,CONTENT_GENERATED,COMPLETED,DELETED"`
	ActionID   *int64 `json:"actionId,omitempty"`
	EntityType string `json:"entityType" enum:"impacted_group,manager_of_people,sponsor,project_health,hygiene"`
	EntityID   string `json:"entityId,omitempty"`
	Category   string `json:"category,omitempty" enum:"AWARENESS,BUYIN,SKILL,USE,PROFICIENCY"`
}

// ActionPlanResponse carries the five manifest shapes: three levels for the
// per-entity manifests, two for project health, flat for hygiene.
type ActionPlanResponse struct {
	ID            int64                                `json:"id"`
	ProjectID     string                               `json:"projectId"`
	State         string                               `json:"state"`
	Groups        map[string]map[string][]SlotResponse `json:"impactGroupActionPlanSlotManifest"`
	MOPs          map[string]map[string][]SlotResponse `json:"mopActionPlanSlotManifest"`
	Sponsors      map[string]map[string][]SlotResponse `json:"sponsorActionPlanSlotManifest"`
	ProjectHealth map[string][]SlotResponse            `json:"projectHealthActionPlanSlotManifest"`
	Hygiene       []SlotResponse                       `json:"hygieneActionPlanSlotManifest"`
}

type ContentRecordResponse struct {
	ID        int64  `json:"id"`
	SlotID    int64  `json:"slotId"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SlotContentResponse struct {
	SlotID  int64                   `json:"slotId"`
	Records []ContentRecordResponse `json:"records"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ProjectConfigResponse struct {
	Project  projectConfigSection  `json:"project"`
	Planning planningConfigSection `json:"planning"`
}

type projectConfigSection struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type planningConfigSection struct {
	HorizonDays         int            `json:"horizon_days"`
	CadenceDays         map[string]int `json:"cadence_days"`
	HygieneIntervalDays int            `json:"hygiene_interval_days"`
	DefaultCooldownDays int            `json:"default_cooldown_days"`
	OptionBatchSize     int            `json:"option_batch_size"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func recipientResponse(rc domain.Recipient) RecipientResponse {
	return RecipientResponse(rc)
}

func actionResponse(a domain.Action) ActionResponse {
	return ActionResponse{
		ID:              a.ID,
		OrgID:           a.OrgID,
		Name:            a.Name,
		Category:        a.Category,
		EntityType:      a.EntityKind,
		Phase:           a.Phase,
		Medium:          a.Medium,
		WhoSender:       a.WhoSender,
		WhoReceiver:     a.WhoReceiver,
		WhoExecutor:     a.WhoExecutor,
		CooldownDays:    a.CooldownDays,
		Shareable:       a.Shareable,
		Sprint:          a.Sprint,
		ContentTemplate: a.ContentTemplate,
		CreatedAt:       a.CreatedAt,
	}
}

func mapActions(items []domain.Action) []ActionResponse {
	res := make([]ActionResponse, 0, len(items))
	for _, a := range items {
		res = append(res, actionResponse(a))
	}
	return res
}

func slotResponse(s domain.Slot) SlotResponse {
	return SlotResponse{
		ID:         s.ID,
		AOID:       s.AOID,
		SlotDate:   s.SlotDate,
		SlotState:  s.SlotState,
		ActionID:   s.ActionID,
		EntityType: s.EntityKind,
		EntityID:   s.EntityID,
		Category:   s.Category,
	}
}

func planResponse(p plan.Plan) ActionPlanResponse {
	res := ActionPlanResponse{
		ID:            p.ID,
		ProjectID:     p.ProjectID,
		State:         p.State,
		Groups:        entityManifestResponse(p.Groups),
		MOPs:          entityManifestResponse(p.MOPs),
		Sponsors:      entityManifestResponse(p.Sponsors),
		ProjectHealth: map[string][]SlotResponse{},
		Hygiene:       []SlotResponse{},
	}
	for cat, slots := range p.ProjectHealth {
		for _, s := range slots {
			res.ProjectHealth[cat] = append(res.ProjectHealth[cat], slotResponse(s))
		}
	}
	for _, s := range p.Hygiene {
		res.Hygiene = append(res.Hygiene, slotResponse(s))
	}
	return res
}

func entityManifestResponse(m plan.EntityManifest) map[string]map[string][]SlotResponse {
	res := map[string]map[string][]SlotResponse{}
	for entityID, byCat := range m {
		res[entityID] = map[string][]SlotResponse{}
		for cat, slots := range byCat {
			for _, s := range slots {
				res[entityID][cat] = append(res[entityID][cat], slotResponse(s))
			}
		}
	}
	return res
}

func contentRecordResponse(cr domain.ContentRecord) ContentRecordResponse {
	return ContentRecordResponse{
		ID:        cr.ID,
		SlotID:    cr.SlotID,
		Text:      plan.DisplayText(cr.ResultJSON),
		CreatedAt: cr.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	return ProjectConfigResponse{
		Project: projectConfigSection{
			ID:   cfg.Project.ID,
			Kind: cfg.Project.Kind,
		},
		Planning: planningConfigSection{
			HorizonDays:         cfg.Planning.HorizonDays,
			CadenceDays:         cfg.Planning.CadenceDays,
			HygieneIntervalDays: cfg.Planning.HygieneIntervalDays,
			DefaultCooldownDays: cfg.Planning.DefaultCooldownDays,
			OptionBatchSize:     cfg.Planning.OptionBatchSize,
		},
	}
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
