package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeventeLantos/congregation-messaging/internal/model"
)

const messageColumns = `id, content, type, frequency, schedule_time, end_date, status,
	sender_id, days_before, last_sent_at, last_error, processing_started_at,
	claimed_from, created_at, updated_at`

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (model.Message, error) {
	var (
		m                          model.Message
		typ, freq, status          string
		endDate, lastSent, started sql.NullTime
		senderID, lastErr, claimed sql.NullString
	)
	if err := s.Scan(
		&m.ID,
		&m.Content,
		&typ,
		&freq,
		&m.ScheduleTime,
		&endDate,
		&status,
		&senderID,
		&m.DaysBefore,
		&lastSent,
		&lastErr,
		&started,
		&claimed,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.Message{}, err
	}

	m.Type = model.MessageType(typ)
	m.Frequency = model.Frequency(freq)
	m.Status = model.Status(status)
	m.SenderID = senderID.String
	m.EndDate = ptrTime(endDate)
	m.LastSentAt = ptrTime(lastSent)
	m.LastError = ptrString(lastErr)
	m.ProcessingStartedAt = ptrTime(started)
	if claimed.Valid {
		st := model.Status(claimed.String)
		m.ClaimedFrom = &st
	}
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (content, type, frequency, schedule_time, end_date, status, sender_id, days_before)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`,
		m.Content,
		string(m.Type),
		string(m.Frequency),
		m.ScheduleTime,
		m.EndDate,
		string(m.Status),
		nullString(m.SenderID),
		m.DaysBefore,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	for i := range m.Recipients {
		m.Recipients[i].MessageID = m.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_recipients (message_id, recipient_type, recipient_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, m.ID, string(m.Recipients[i].Type), m.Recipients[i].RefID); err != nil {
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepo) Get(ctx context.Context, id int64) (*model.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundIfNoRows(err, "message")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT recipient_type, recipient_id
		FROM message_recipients
		WHERE message_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rc := model.Recipient{MessageID: id}
		var typ string
		if err := rows.Scan(&typ, &rc.RefID); err != nil {
			return nil, err
		}
		rc.Type = model.RecipientType(typ)
		m.Recipients = append(m.Recipients, rc)
	}
	return &m, rows.Err()
}

func (r *PostgresMessageRepo) List(ctx context.Context, filter MessageFilter, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	q += fmt.Sprintf(` ORDER BY schedule_time DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresMessageRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NotFound("message not found")
	}
	return nil
}

func (r *PostgresMessageRepo) ClaimDue(ctx context.Context, now time.Time, limit int, isDue func(model.Message) bool) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Claimed rows leave the candidate set, so the rows ahead of the next
	// page are exactly the ones rejected so far.
	var (
		claimed  []model.Message
		rejected int
	)
	for len(claimed) < limit {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE status IN ('active', 'scheduled')
			  AND type <> 'birthday'
			  AND schedule_time <= $1
			ORDER BY last_sent_at ASC NULLS FIRST, schedule_time ASC, id ASC
			LIMIT $2 OFFSET $3
			FOR UPDATE SKIP LOCKED
		`, now, limit, rejected)
		if err != nil {
			return nil, err
		}
		page, err := collectMessages(rows)
		if err != nil {
			return nil, err
		}

		for _, m := range page {
			if len(claimed) == limit || (isDue != nil && !isDue(m)) {
				rejected++
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages
				SET claimed_from = status,
				    status = 'processing',
				    processing_started_at = $2,
				    updated_at = $2
				WHERE id = $1
			`, m.ID, now); err != nil {
				return nil, err
			}

			from := m.Status
			m.ClaimedFrom = &from
			m.Status = model.Processing
			started := now
			m.ProcessingStartedAt = &started
			claimed = append(claimed, m)
		}

		if len(page) < limit {
			break
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *PostgresMessageRepo) Finish(ctx context.Context, id int64, status model.Status, lastSentAt *time.Time, lastError *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $2,
		    last_sent_at = COALESCE($3, last_sent_at),
		    last_error = $4,
		    processing_started_at = NULL,
		    claimed_from = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, string(status), lastSentAt, lastError)
	return err
}

func (r *PostgresMessageRepo) ListStuck(ctx context.Context, cutoff time.Time) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'processing'
		  AND (processing_started_at IS NULL OR processing_started_at < $1)
		ORDER BY processing_started_at ASC NULLS FIRST
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresMessageRepo) ListActiveBirthday(ctx context.Context) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE type = 'birthday'
		  AND status IN ('active', 'scheduled')
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}
