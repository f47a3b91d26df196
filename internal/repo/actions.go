package repo

import (
	"context"
	"database/sql"
	"strings"

	"andchange/internal/domain"
)

// InsertActionTx inserts a catalog action. Hygiene actions carry no ABSUP
// category; an empty category is stored as NULL, mirroring plan_slots.
func (r Repo) InsertActionTx(ctx context.Context, tx *sql.Tx, a domain.Action) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO actions(org_id,name,category,entity_kind,phase,medium,who_sender,who_receiver,who_executor,cooldown_days,shareable,sprint,content_template,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.OrgID, a.Name, nullable(a.Category), a.EntityKind, a.Phase, a.Medium, a.WhoSender, a.WhoReceiver, a.WhoExecutor,
		a.CooldownDays, a.Shareable, a.Sprint, nullable(a.ContentTemplate), a.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanAction(scan func(dest ...any) error) (domain.Action, error) {
	var a domain.Action
	var category, template sql.NullString
	err := scan(&a.ID, &a.OrgID, &a.Name, &category, &a.EntityKind, &a.Phase, &a.Medium,
		&a.WhoSender, &a.WhoReceiver, &a.WhoExecutor, &a.CooldownDays, &a.Shareable, &a.Sprint, &template, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	if category.Valid {
		a.Category = category.String
	}
	if template.Valid {
		a.ContentTemplate = template.String
	}
	return a, nil
}

const actionColumns = `id,org_id,name,category,entity_kind,phase,medium,who_sender,who_receiver,who_executor,cooldown_days,shareable,sprint,content_template,created_at`

func (r Repo) GetAction(ctx context.Context, id int64) (domain.Action, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id)
	a, err := scanAction(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

type ActionFilters struct {
	OrgID      string
	EntityKind string
	Category   string
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
