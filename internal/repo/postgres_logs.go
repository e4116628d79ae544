package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

type PostgresLogRepo struct {
	db *sql.DB
}

func NewPostgresLogRepo(db *sql.DB) *PostgresLogRepo {
	return &PostgresLogRepo{db: db}
}

func (r *PostgresLogRepo) Insert(ctx context.Context, l *model.SendLog) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO message_logs (message_id, member_id, kind, phone, status, provider_message_id, error, date_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date)
		RETURNING id, created_at
	`,
		l.MessageID,
		l.MemberID,
		string(l.Kind),
		l.Phone,
		string(l.Status),
		l.ProviderMessageID,
		l.Error,
		l.DateKey,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("birthday already logged for message %d: %w", l.MessageID, model.ErrConflict)
		}
		return fmt.Errorf("failed to insert send log: %w", err)
	}
	return nil
}

func (r *PostgresLogRepo) HasSent(ctx context.Context, messageID, memberID int64, dateKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_logs
			WHERE message_id = $1 AND member_id = $2 AND date_key = $3::date AND status = 'sent'
		)
	`, messageID, memberID, dateKey).Scan(&exists)
	return exists, err
}

func (r *PostgresLogRepo) ReserveBirthday(ctx context.Context, messageID, memberID int64, dateKey string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO birthday_dispatches (message_id, member_id, date_key)
		VALUES ($1, $2, $3::date)
		ON CONFLICT DO NOTHING
	`, messageID, memberID, dateKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresLogRepo) ReleaseBirthday(ctx context.Context, messageID, memberID int64, dateKey string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM birthday_dispatches
		WHERE message_id = $1 AND member_id = $2 AND date_key = $3::date
	`, messageID, memberID, dateKey)
	return err
}

func (r *PostgresLogRepo) CountSentSince(ctx context.Context, messageID int64, since time.Time) (int, *time.Time, error) {
	var (
		n      int
		latest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(created_at) FROM message_logs
		WHERE message_id = $1 AND status = 'sent' AND created_at >= $2
	`, messageID, since).Scan(&n, &latest)
	if err != nil {
		return 0, nil, err
	}
	if !latest.Valid {
		return n, nil, nil
	}
	return n, &latest.Time, nil
}

func (r *PostgresLogRepo) List(ctx context.Context, filter model.LogFilter, limit, offset int) ([]model.SendLog, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if filter.MessageID != nil {
		args = append(args, *filter.MessageID)
		where = append(where, fmt.Sprintf("message_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DateKey != "" {
		args = append(args, filter.DateKey)
		where = append(where, fmt.Sprintf("date_key = $%d::date", len(args)))
	}

	q := `
		SELECT id, message_id, member_id, kind, phone, status, provider_message_id, error,
		       to_char(date_key, 'YYYY-MM-DD'), created_at
		FROM message_logs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SendLog
	for rows.Next() {
		var (
			l                model.SendLog
			memberID         sql.NullInt64
			kind, status     string
			providerID, eMsg sql.NullString
		)
		if err := rows.Scan(
			&l.ID,
			&l.MessageID,
			&memberID,
			&kind,
			&l.Phone,
			&status,
			&providerID,
			&eMsg,
			&l.DateKey,
			&l.CreatedAt,
		); err != nil {
			return nil, err
		}
		if memberID.Valid {
			id := memberID.Int64
			l.MemberID = &id
		}
		l.Kind = model.MessageType(kind)
		l.Status = model.LogStatus(status)
		l.ProviderMessageID = ptrString(providerID)
		l.Error = ptrString(eMsg)
		out = append(out, l)
	}
	return out, rows.Err()
}
