package repo

import (
	"context"
	"database/sql"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

type PostgresMemberRepo struct {
	db *sql.DB
}

func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

func (r *PostgresMemberRepo) ResolveRecipients(ctx context.Context, messageID int64) ([]model.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT m.id, m.first_name, m.last_name, m.phone, m.date_of_birth, m.status
		FROM message_recipients mr
		LEFT JOIN group_members gm
		       ON mr.recipient_type = 'group' AND gm.group_id = mr.recipient_id
		JOIN members m
		  ON m.id = CASE WHEN mr.recipient_type = 'group' THEN gm.member_id ELSE mr.recipient_id END
		WHERE mr.message_id = $1
		  AND m.status = 'active'
		ORDER BY m.id
	`, messageID)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

func (r *PostgresMemberRepo) ListWithBirthdays(ctx context.Context) ([]model.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, phone, date_of_birth, status
		FROM members
		WHERE status = 'active'
		  AND date_of_birth IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

func collectMembers(rows *sql.Rows) ([]model.Member, error) {
	defer rows.Close()

	var out []model.Member
	for rows.Next() {
		var (
			m      model.Member
			phone  sql.NullString
			dob    sql.NullTime
			status string
		)
		if err := rows.Scan(&m.ID, &m.FirstName, &m.LastName, &phone, &dob, &status); err != nil {
			return nil, err
		}
		m.Phone = ptrString(phone)
		m.DateOfBirth = ptrTime(dob)
		m.Status = model.MemberStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
