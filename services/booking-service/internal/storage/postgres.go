package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotchat/libs/db"
	otelx "github.com/md-rashed-zaman/slotchat/libs/otel"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
)

//go:embed schema.sql
var Schema string

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	reader
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{reader: reader{q: pool}, pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{reader: reader{q: tx}, tx: tx})
	})
}

const slotColumns = `id::text, provider_id, day, start_time, end_time, reserved, created_at, updated_at`

const appointmentColumns = `id::text, requester_id, provider_id, slot_id::text, topic, description, status,
	cancelled_by, created_at, updated_at, decided_at`

const messageColumns = `id::text, appointment_id::text, sender_id, receiver_id, body, seen, seen_at, created_at`

type reader struct {
	q queryer
}

func (r reader) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	if !validID(id) {
		return model.Slot{}, ErrNotFound
	}
	s, err := scanSlot(r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	return s, mapErr(err)
}

func (r reader) ListSlots(ctx context.Context, f SlotFilter) ([]model.Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
			AND ($2::text = '' OR day = $2::text)
			AND (NOT $3::bool OR reserved = false)
	`, f.ProviderID, string(f.Day), f.AvailableOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	SortSlots(slots)
	return slots, nil
}

func (r reader) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, ErrNotFound
	}
	a, err := scanAppointment(r.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	return a, mapErr(err)
}

func (r reader) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}
	if f.ProviderID != "" {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.Participants[0] != "" && f.Participants[1] != "" {
		args = append(args, f.Participants[0], f.Participants[1])
		where = append(where, fmt.Sprintf("((requester_id = $%[1]d AND provider_id = $%[2]d) OR (requester_id = $%[2]d AND provider_id = $%[1]d))", len(args)-1, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r reader) CountAppointmentsByStatus(ctx context.Context, providerID string) (map[model.Status]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, COUNT(*)
		FROM appointments
		WHERE provider_id = $1
		GROUP BY status
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.Status(status)] = n
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

func (r reader) ListMessages(ctx context.Context, appointmentID string) ([]model.Message, error) {
	if !validID(appointmentID) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE appointment_id = $1
		ORDER BY created_at ASC, seq ASC
	`, appointmentID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectMessages(rows)
}

type pgTx struct {
	reader
	tx pgx.Tx
}

func (t *pgTx) InsertSlot(ctx context.Context, s model.Slot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO slots (id, provider_id, day, start_time, end_time, reserved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, $6, $6)
	`, s.ID, s.ProviderID, string(s.Day), s.StartTime, s.EndTime, s.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateSlotTimes(ctx context.Context, s model.Slot) (model.Slot, bool, error) {
	if !validID(s.ID) {
		return model.Slot{}, false, nil
	}
	out, err := scanSlot(t.tx.QueryRow(ctx, `
		UPDATE slots
		SET day = $3, start_time = $4, end_time = $5, updated_at = $6
		WHERE id = $1 AND provider_id = $2 AND reserved = false
		RETURNING `+slotColumns,
		s.ID, s.ProviderID, string(s.Day), s.StartTime, s.EndTime, s.UpdatedAt))
	return matched(out, mapErr(err))
}

func (t *pgTx) DeleteSlot(ctx context.Context, id, providerID string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1 AND provider_id = $2 AND reserved = false
	`, id, providerID)
	if err := mapErr(err); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ReserveSlot(ctx context.Context, id, providerID string, at time.Time) (model.Slot, bool, error) {
	if !validID(id) {
		return model.Slot{}, false, nil
	}
	s, err := scanSlot(t.tx.QueryRow(ctx, `
		UPDATE slots
		SET reserved = true, updated_at = $3
		WHERE id = $1 AND provider_id = $2 AND reserved = false
		RETURNING `+slotColumns,
		id, providerID, at))
	return matched(s, mapErr(err))
}

func (t *pgTx) ReleaseSlot(ctx context.Context, id string, at time.Time) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE slots SET reserved = false, updated_at = $2 WHERE id = $1
	`, id, at)
	if err := mapErr(err); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, requester_id, provider_id, slot_id, topic, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, a.ID, a.RequesterID, a.ProviderID, a.SlotID, a.Topic, a.Description, string(a.Status), a.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) LockAppointment(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, ErrNotFound
	}
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE
	`, id))
	return a, mapErr(err)
}

func (t *pgTx) TransitionAppointment(ctx context.Context, id string, from, to model.Status, actorID string, at time.Time) (model.Appointment, bool, error) {
	if !validID(id) {
		return model.Appointment{}, false, nil
	}
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			updated_at = $5,
			decided_at = CASE WHEN $2::text = 'pending' THEN $5 ELSE decided_at END,
			cancelled_by = CASE WHEN $3::text = 'cancelled' THEN $4 ELSE cancelled_by END
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns,
		id, string(from), string(to), actorID, at))
	return matched(a, mapErr(err))
}

func (t *pgTx) DeleteAppointment(ctx context.Context, id string, from model.Status) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1 AND status = $2`, id, string(from))
	if err := mapErr(err); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertMessage(ctx context.Context, m model.Message) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, receiver_id, body, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
	`, m.ID, m.AppointmentID, m.SenderID, m.ReceiverID, m.Body, m.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) MarkMessagesSeen(ctx context.Context, appointmentID, readerID string, at time.Time) ([]model.Message, error) {
	if !validID(appointmentID) {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `
		UPDATE messages
		SET seen = true, seen_at = $3
		WHERE appointment_id = $1 AND receiver_id = $2 AND seen = false
		RETURNING `+messageColumns,
		appointmentID, readerID, at)
	if err != nil {
		return nil, mapErr(err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (t *pgTx) InsertOutbox(ctx context.Context, evt outbox.Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

func (s *PostgresStore) PublishBatch(ctx context.Context, limit int, publish func(ctx context.Context, records []outbox.Record) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		var records []outbox.Record
		for rows.Next() {
			var rcd outbox.Record
			if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			records = append(records, rcd)
		}
		rows.Close()
		if rows.Err() != nil {
			return rows.Err()
		}
		if len(records) == 0 {
			return nil
		}

		if err := publish(ctx, records); err != nil {
			return err
		}

		ids := make([]int64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		_, err = tx.Exec(ctx, `
			UPDATE outbox_events
			SET published_at = now()
			WHERE id = ANY($1)
		`, ids)
		return err
	})
}

func (s *PostgresStore) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE published_at IS NOT NULL AND published_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSlot(row pgx.Row) (model.Slot, error) {
	var s model.Slot
	var day string
	err := row.Scan(&s.ID, &s.ProviderID, &day, &s.StartTime, &s.EndTime, &s.Reserved, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Slot{}, err
	}
	s.Day = model.Day(day)
	return s, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	var decidedAt *time.Time
	err := row.Scan(
		&a.ID,
		&a.RequesterID,
		&a.ProviderID,
		&a.SlotID,
		&a.Topic,
		&a.Description,
		&status,
		&a.CancelledBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&decidedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	a.DecidedAt = decidedAt
	return a, nil
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var seenAt *time.Time
		if err := rows.Scan(&m.ID, &m.AppointmentID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Seen, &seenAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SeenAt = seenAt
		msgs = append(msgs, m)
	}
	if rows.Err() != nil {
		return nil, mapErr(rows.Err())
	}
	return msgs, nil
}

// matched converts a no-rows result from a conditional update into ok=false.
func matched[T any](v T, err error) (T, bool, error) {
	if err != nil {
		var zero T
		if IsNotFound(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return v, true, nil
}

// validID screens lookup keys before they reach Postgres. A uuid cast error
// would abort the surrounding transaction and poison every later statement.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		}
	}
	return err
}

// SortSlots orders by weekday then start time.
func SortSlots(slots []model.Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Day != slots[j].Day {
			return slots[i].Day.Index() < slots[j].Day.Index()
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}
