package repo

import (
	"context"
	"database/sql"

	"andchange/internal/domain"
)

func (r Repo) InsertPlanTx(ctx context.Context, tx *sql.Tx, ap domain.ActionPlan) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO action_plans(project_id,state,created_at,updated_at) VALUES (?,?,?,?)`,
		ap.ProjectID, ap.State, ap.CreatedAt, ap.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) TouchPlanTx(ctx context.Context, tx *sql.Tx, planID int64, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE action_plans SET updated_at=? WHERE id=?`, updatedAt, planID)
	return err
}

func scanPlan(row *sql.Row) (domain.ActionPlan, error) {
	var ap domain.ActionPlan
	err := row.Scan(&ap.ID, &ap.ProjectID, &ap.State, &ap.CreatedAt, &ap.UpdatedAt)
	if err == sql.ErrNoRows {
		return ap, ErrNotFound
	}
	return ap, err
}

func (r Repo) GetPlan(ctx context.Context, id int64) (domain.ActionPlan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT id,project_id,state,created_at,updated_at FROM action_plans WHERE id=?`, id))
}

// GetPlanByProject relies on the one-plan-per-project constraint.
func (r Repo) GetPlanByProject(ctx context.Context, projectID string) (domain.ActionPlan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT id,project_id,state,created_at,updated_at FROM action_plans WHERE project_id=?`, projectID))
}

func (r Repo) GetPlanByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.ActionPlan, error) {
	var ap domain.ActionPlan
	err := tx.QueryRowContext(ctx, `SELECT id,project_id,state,created_at,updated_at FROM action_plans WHERE project_id=?`, projectID).
		Scan(&ap.ID, &ap.ProjectID, &ap.State, &ap.CreatedAt, &ap.UpdatedAt)
	if err == sql.ErrNoRows {
		return ap, ErrNotFound
	}
	return ap, err
}

const slotColumns = `id,plan_id,entity_kind,entity_id,category,ao_id,slot_date,slot_state,action_id,created_at,updated_at`

func scanSlot(scan func(dest ...any) error) (domain.Slot, error) {
	var s domain.Slot
	var entityID, category sql.NullString
	var actionID sql.NullInt64
	err := scan(&s.ID, &s.PlanID, &s.EntityKind, &entityID, &category, &s.AOID, &s.SlotDate, &s.SlotState, &actionID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	if entityID.Valid {
		s.EntityID = entityID.String
	}
	if category.Valid {
		s.Category = category.String
	}
	if actionID.Valid {
		s.ActionID = &actionID.Int64
	}
	return s, nil
}

func (r Repo) InsertSlotTx(ctx context.Context, tx *sql.Tx, s domain.Slot) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO plan_slots(plan_id,entity_kind,entity_id,category,ao_id,slot_date,slot_state,action_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.PlanID, s.EntityKind, nullable(s.EntityID), nullable(s.Category), s.AOID, s.SlotDate, s.SlotState,
		nullableInt64Ptr(s.ActionID), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateSlotTx(ctx context.Context, tx *sql.Tx, s domain.Slot) error {
	_, err := tx.ExecContext(ctx, `UPDATE plan_slots SET ao_id=?, slot_date=?, slot_state=?, action_id=?, updated_at=? WHERE id=?`,
		s.AOID, s.SlotDate, s.SlotState, nullableInt64Ptr(s.ActionID), s.UpdatedAt, s.ID)
	return err
}

func (r Repo) GetSlot(ctx context.Context, id int64) (domain.Slot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM plan_slots WHERE id=?`, id)
	s, err := scanSlot(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSlotTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Slot, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM plan_slots WHERE id=?`, id)
	s, err := scanSlot(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSlotsByPlan(ctx context.Context, planID int64) ([]domain.Slot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM plan_slots WHERE plan_id=? ORDER BY id ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

// RetireOpenSlotsTx marks every non-terminal slot of a plan DELETED. Slot rows
// stay in place.
func (r Repo) RetireOpenSlotsTx(ctx context.Context, tx *sql.Tx, planID int64, updatedAt string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE plan_slots SET slot_state='DELETED', updated_at=? WHERE plan_id=? AND slot_state NOT IN ('COMPLETED','DELETED')`,
		updatedAt, planID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActiveActionSlots returns live slots for an entity that already carry an
// action, for cooldown checks against the catalog.
func (r Repo) ActiveActionSlots(ctx context.Context, planID int64, entityKind, entityID string) ([]domain.Slot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM plan_slots
WHERE plan_id=? AND entity_kind=? AND COALESCE(entity_id,'')=? AND action_id IS NOT NULL AND slot_state != 'DELETED' ORDER BY id ASC`,
		planID, entityKind, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func collectSlots(rows *sql.Rows) ([]domain.Slot, error) {
	var res []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertContentRecordTx(ctx context.Context, tx *sql.Tx, cr domain.ContentRecord) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO content_records(slot_id,request_json,result_json,created_at) VALUES (?,?,?,?)`,
		cr.SlotID, nullable(cr.RequestJSON), cr.ResultJSON, cr.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListContentRecords(ctx context.Context, slotID int64) ([]domain.ContentRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,slot_id,request_json,result_json,created_at FROM content_records WHERE slot_id=? ORDER BY id ASC`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ContentRecord
	for rows.Next() {
		var cr domain.ContentRecord
		var request sql.NullString
		if err := rows.Scan(&cr.ID, &cr.SlotID, &request, &cr.ResultJSON, &cr.CreatedAt); err != nil {
			return nil, err
		}
		if request.Valid {
			cr.RequestJSON = request.String
		}
		res = append(res, cr)
	}
	return res, rows.Err()
}
