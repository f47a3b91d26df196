package domain

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Recipient is a target of scheduled change actions: an impacted group,
// a manager of people, or a sponsor.
type Recipient struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind" enum:"impacted_group,manager_of_people,sponsor"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Action is a reusable catalog template that can fill a slot.
type Action struct {
	ID              int64  `json:"id"`
	OrgID           string `json:"org_id"`
	Name            string `json:"name"`
	Category        string `json:"category" enum:"AWARENESS,BUYIN,SKILL,USE,PROFICIENCY"`
	EntityKind      string `json:"entity_kind" enum:"impacted_group,manager_of_people,sponsor,project_health,hygiene"`
	Phase           string `json:"phase" enum:"prepare,manage,sustain"`
	Medium          string `json:"medium" enum:"none,paper,digital,both"`
	WhoSender       string `json:"who_sender"`
	WhoReceiver     string `json:"who_receiver"`
	WhoExecutor     string `json:"who_executor"`
	CooldownDays    int    `json:"cooldown_days"`
	Shareable       bool   `json:"shareable"`
	Sprint          bool   `json:"sprint"`
	ContentTemplate string `json:"content_template,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type ActionPlan struct {
	ID        int64  `json:"id"`
	ProjectID string `json:"project_id"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Slot is a dated, stateful placeholder for one scheduled action. Slots are
// never removed from storage; DELETED is a state, not a row deletion.
type Slot struct {
	ID         int64  `json:"id"`
	PlanID     int64  `json:"plan_id"`
	EntityKind string `json:"entity_kind" enum:"impacted_group,manager_of_people,sponsor,project_health,hygiene"`
	EntityID   string `json:"entity_id,omitempty"`
	Category   string `json:"category,omitempty" enum:"AWARENESS,BUYIN,SKILL,USE,PROFICIENCY"`
	AOID       string `json:"ao_id"`
	SlotDate   string `json:"slot_date"`
	SlotState  string `json:"slot_state" enum:"VACANT,MOOTED,ACCEPTED,CONTENT_GENERATED,COMPLETED,DELETED"`
	ActionID   *int64 `json:"action_id,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// ContentRecord stores one generated asset for a slot. Records are immutable;
// regeneration appends a new record.
type ContentRecord struct {
	ID          int64  `json:"id"`
	SlotID      int64  `json:"slot_id"`
	RequestJSON string `json:"request_json,omitempty"`
	ResultJSON  string `json:"result_json"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
