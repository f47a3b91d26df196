package plan

import (
	"sort"
	"time"

	"andchange/internal/domain"
)

// DateLayout is the calendar-date format slots carry (no time component).
const DateLayout = "2006-01-02"

// EntityManifest groups slots by entity id, then ABSUP category.
type EntityManifest map[string]map[string][]domain.Slot

// CategoryManifest groups slots by ABSUP category only (project health).
type CategoryManifest map[string][]domain.Slot

// Plan is the in-memory aggregate of one project's action plan: the stored
// plan row plus its slots arranged into the five manifest shapes.
type Plan struct {
	ID            int64
	ProjectID     string
	State         string
	Groups        EntityManifest
	MOPs          EntityManifest
	Sponsors      EntityManifest
	ProjectHealth CategoryManifest
	Hygiene       []domain.Slot
}

// Build arranges a plan's slots into manifests. Slot order within each bucket
// follows the input order; callers sort via Flatten when they need date order.
func Build(ap domain.ActionPlan, slots []domain.Slot) Plan {
	p := Plan{
		ID:            ap.ID,
		ProjectID:     ap.ProjectID,
		State:         ap.State,
		Groups:        EntityManifest{},
		MOPs:          EntityManifest{},
		Sponsors:      EntityManifest{},
		ProjectHealth: CategoryManifest{},
	}
	for _, s := range slots {
		switch s.EntityKind {
		case EntityImpactedGroup:
			p.Groups.add(s)
		case EntityManagerOfPeople:
			p.MOPs.add(s)
		case EntitySponsor:
			p.Sponsors.add(s)
		case EntityProjectHealth:
			p.ProjectHealth[s.Category] = append(p.ProjectHealth[s.Category], s)
		case EntityHygiene:
			p.Hygiene = append(p.Hygiene, s)
		}
	}
	return p
}

func (m EntityManifest) add(s domain.Slot) {
	byCat, ok := m[s.EntityID]
	if !ok {
		byCat = map[string][]domain.Slot{}
		m[s.EntityID] = byCat
	}
	byCat[s.Category] = append(byCat[s.Category], s)
}

// Row is one flattened slot tagged with its manifest origin so edit paths
// know which update route applies.
type Row struct {
	EntityKind string
	EntityID   string
	Category   string
	Slot       domain.Slot
}

// Flatten collapses all five manifest shapes into one row list sorted by slot
// date ascending. Rows with missing or unparseable dates sort after every
// dated row. The output is deterministic: entity keys are visited in sorted
// order, categories in canonical ladder order, and slot id breaks date ties.
func Flatten(p Plan) []Row {
	var rows []Row
	rows = appendEntityRows(rows, EntityImpactedGroup, p.Groups)
	rows = appendEntityRows(rows, EntityManagerOfPeople, p.MOPs)
	rows = appendEntityRows(rows, EntitySponsor, p.Sponsors)
	for _, cat := range Categories() {
		for _, s := range p.ProjectHealth[cat] {
			rows = append(rows, Row{EntityKind: EntityProjectHealth, Category: cat, Slot: s})
		}
	}
	for _, s := range p.Hygiene {
		rows = append(rows, Row{EntityKind: EntityHygiene, Slot: s})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ti, okI := parseSlotDate(rows[i].Slot.SlotDate)
		tj, okJ := parseSlotDate(rows[j].Slot.SlotDate)
		if okI != okJ {
			return okI
		}
		if okI && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return rows[i].Slot.ID < rows[j].Slot.ID
	})
	return rows
}

func appendEntityRows(rows []Row, kind string, m EntityManifest) []Row {
	entities := make([]string, 0, len(m))
	for id := range m {
		entities = append(entities, id)
	}
	sort.Strings(entities)
	for _, id := range entities {
		for _, cat := range Categories() {
			for _, s := range m[id][cat] {
				rows = append(rows, Row{EntityKind: kind, EntityID: id, Category: cat, Slot: s})
			}
		}
	}
	return rows
}

func parseSlotDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseDate parses a slot date, reporting whether it was parseable.
func ParseDate(raw string) (time.Time, bool) {
	return parseSlotDate(raw)
}
