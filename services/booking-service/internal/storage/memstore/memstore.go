// Package memstore is an in-process storage.Store. A unit of work holds the
// write lock and operates on a copy-on-write view of the state: a map is
// cloned the first time the unit of work writes to it, and the view replaces
// the original only when the unit of work succeeds.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/slotchat/libs/otel"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
)

type Store struct {
	mu    sync.RWMutex
	state *state

	outboxMu      sync.Mutex
	outbox        []outboxRow
	outboxSeq     int64
	outboxLimit   int
	discardOutbox bool
	publishMu     sync.Mutex
}

type Option func(*Store)

// WithOutboxLimit keeps at most n outbox rows. The oldest rows are dropped
// first, published or not.
func WithOutboxLimit(n int) Option {
	return func(s *Store) { s.outboxLimit = n }
}

// DiscardOutbox drops outbox rows at commit. Use it when nothing publishes them.
func DiscardOutbox() Option {
	return func(s *Store) { s.discardOutbox = true }
}

type outboxRow struct {
	rec         outbox.Record
	publishedAt *time.Time
}

var _ storage.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{state: newState()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.view()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state

	if len(tx.pending) > 0 && !s.discardOutbox {
		s.outboxMu.Lock()
		for _, rec := range tx.pending {
			s.outboxSeq++
			rec.ID = s.outboxSeq
			s.outbox = append(s.outbox, outboxRow{rec: rec})
		}
		if over := len(s.outbox) - s.outboxLimit; s.outboxLimit > 0 && over > 0 {
			s.outbox = slices.Delete(s.outbox, 0, over)
		}
		s.outboxMu.Unlock()
	}
	return nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetSlot(ctx, id)
}

func (s *Store) ListSlots(ctx context.Context, f storage.SlotFilter) ([]model.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListSlots(ctx, f)
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.GetAppointment(ctx, id)
}

func (s *Store) ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListAppointments(ctx, f)
}

func (s *Store) CountAppointmentsByStatus(ctx context.Context, providerID string) (map[model.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.CountAppointmentsByStatus(ctx, providerID)
}

func (s *Store) ListMessages(ctx context.Context, appointmentID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListMessages(ctx, appointmentID)
}

func (s *Store) PublishBatch(ctx context.Context, limit int, publish func(ctx context.Context, records []outbox.Record) error) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.outboxMu.Lock()
	var (
		idx     []int
		records []outbox.Record
	)
	for i, row := range s.outbox {
		if row.publishedAt != nil {
			continue
		}
		idx = append(idx, i)
		records = append(records, row.rec)
		if len(records) == limit {
			break
		}
	}
	s.outboxMu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := publish(ctx, records); err != nil {
		return err
	}

	now := time.Now()
	s.outboxMu.Lock()
	for _, i := range idx {
		s.outbox[i].publishedAt = &now
	}
	s.outboxMu.Unlock()
	return nil
}

func (s *Store) PurgePublished(_ context.Context, before time.Time) (int64, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	kept := s.outbox[:0]
	var n int64
	for _, row := range s.outbox {
		if row.publishedAt != nil && row.publishedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	s.outbox = kept
	return n, nil
}

// Outbox returns every stored outbox record, published or not.
func (s *Store) Outbox() []outbox.Record {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	out := make([]outbox.Record, 0, len(s.outbox))
	for _, row := range s.outbox {
		out = append(out, row.rec)
	}
	return out
}

type state struct {
	slots    map[string]model.Slot
	appts    map[string]model.Appointment
	messages map[string][]model.Message
}

func newState() *state {
	return &state{
		slots:    map[string]model.Slot{},
		appts:    map[string]model.Appointment{},
		messages: map[string][]model.Message{},
	}
}

// view shares every map with st. The unit of work clones before writing.
func (st *state) view() *state {
	return &state{slots: st.slots, appts: st.appts, messages: st.messages}
}

func (st *state) GetSlot(_ context.Context, id string) (model.Slot, error) {
	s, ok := st.slots[id]
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	return s, nil
}

func (st *state) ListSlots(_ context.Context, f storage.SlotFilter) ([]model.Slot, error) {
	var out []model.Slot
	for _, s := range st.slots {
		if s.ProviderID != f.ProviderID {
			continue
		}
		if f.Day != "" && s.Day != f.Day {
			continue
		}
		if f.AvailableOnly && s.Reserved {
			continue
		}
		out = append(out, s)
	}
	storage.SortSlots(out)
	return out, nil
}

func (st *state) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	a, ok := st.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (st *state) ListAppointments(_ context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range st.appts {
		if f.RequesterID != "" && a.RequesterID != f.RequesterID {
			continue
		}
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		if p := f.Participants; p[0] != "" && p[1] != "" {
			if !(a.Involves(p[0]) && a.Counterpart(p[0]) == p[1]) {
				continue
			}
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *state) CountAppointmentsByStatus(_ context.Context, providerID string) (map[model.Status]int, error) {
	counts := map[model.Status]int{}
	for _, a := range st.appts {
		if a.ProviderID == providerID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (st *state) ListMessages(_ context.Context, appointmentID string) ([]model.Message, error) {
	out := slices.Clone(st.messages[appointmentID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memTx struct {
	*state
	pending []outbox.Record

	ownSlots, ownAppts, ownMessages bool
	ownThreads                      map[string]bool
}

func (t *memTx) writeSlots() map[string]model.Slot {
	if !t.ownSlots {
		t.slots = maps.Clone(t.slots)
		t.ownSlots = true
	}
	return t.slots
}

func (t *memTx) writeAppts() map[string]model.Appointment {
	if !t.ownAppts {
		t.appts = maps.Clone(t.appts)
		t.ownAppts = true
	}
	return t.appts
}

// writeThread returns a private copy of one appointment's messages. Other
// threads keep sharing their backing arrays with the committed state.
func (t *memTx) writeThread(appointmentID string) []model.Message {
	if !t.ownMessages {
		t.messages = maps.Clone(t.messages)
		t.ownMessages = true
		t.ownThreads = map[string]bool{}
	}
	if !t.ownThreads[appointmentID] {
		t.messages[appointmentID] = slices.Clone(t.messages[appointmentID])
		t.ownThreads[appointmentID] = true
	}
	return t.messages[appointmentID]
}

func (t *memTx) duplicateWindow(s model.Slot) bool {
	for _, other := range t.slots {
		if other.ID == s.ID || other.ProviderID != s.ProviderID {
			continue
		}
		if other.Day == s.Day && other.StartTime == s.StartTime && other.EndTime == s.EndTime {
			return true
		}
	}
	return false
}

func (t *memTx) InsertSlot(_ context.Context, s model.Slot) error {
	if _, exists := t.slots[s.ID]; exists || t.duplicateWindow(s) {
		return storage.ErrDuplicate
	}
	s.Reserved = false
	s.UpdatedAt = s.CreatedAt
	t.writeSlots()[s.ID] = s
	return nil
}

func (t *memTx) UpdateSlotTimes(_ context.Context, s model.Slot) (model.Slot, bool, error) {
	cur, ok := t.slots[s.ID]
	if !ok || cur.ProviderID != s.ProviderID || cur.Reserved {
		return model.Slot{}, false, nil
	}
	if t.duplicateWindow(s) {
		return model.Slot{}, false, storage.ErrDuplicate
	}
	cur.Day, cur.StartTime, cur.EndTime, cur.UpdatedAt = s.Day, s.StartTime, s.EndTime, s.UpdatedAt
	t.writeSlots()[s.ID] = cur
	return cur, true, nil
}

func (t *memTx) DeleteSlot(_ context.Context, id, providerID string) (bool, error) {
	cur, ok := t.slots[id]
	if !ok || cur.ProviderID != providerID || cur.Reserved {
		return false, nil
	}
	delete(t.writeSlots(), id)
	return true, nil
}

func (t *memTx) ReserveSlot(_ context.Context, id, providerID string, at time.Time) (model.Slot, bool, error) {
	cur, ok := t.slots[id]
	if !ok || cur.ProviderID != providerID || cur.Reserved {
		return model.Slot{}, false, nil
	}
	cur.Reserved = true
	cur.UpdatedAt = at
	t.writeSlots()[id] = cur
	return cur, true, nil
}

func (t *memTx) ReleaseSlot(_ context.Context, id string, at time.Time) (bool, error) {
	cur, ok := t.slots[id]
	if !ok {
		return false, nil
	}
	cur.Reserved = false
	cur.UpdatedAt = at
	t.writeSlots()[id] = cur
	return true, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a model.Appointment) error {
	if _, exists := t.appts[a.ID]; exists {
		return storage.ErrDuplicate
	}
	for _, other := range t.appts {
		if other.SlotID == a.SlotID && other.Status.Live() {
			return storage.ErrDuplicate
		}
	}
	a.UpdatedAt = a.CreatedAt
	t.writeAppts()[a.ID] = a
	return nil
}

func (t *memTx) LockAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

func (t *memTx) TransitionAppointment(_ context.Context, id string, from, to model.Status, actorID string, at time.Time) (model.Appointment, bool, error) {
	cur, ok := t.appts[id]
	if !ok || cur.Status != from {
		return model.Appointment{}, false, nil
	}
	if from == model.StatusPending {
		decided := at
		cur.DecidedAt = &decided
	}
	if to == model.StatusCancelled {
		cur.CancelledBy = actorID
	}
	cur.Status = to
	cur.UpdatedAt = at
	t.writeAppts()[id] = cur
	return cur, true, nil
}

func (t *memTx) DeleteAppointment(_ context.Context, id string, from model.Status) (bool, error) {
	cur, ok := t.appts[id]
	if !ok || cur.Status != from {
		return false, nil
	}
	delete(t.writeAppts(), id)
	return true, nil
}

func (t *memTx) InsertMessage(_ context.Context, m model.Message) error {
	if _, ok := t.appts[m.AppointmentID]; !ok {
		return storage.ErrNotFound
	}
	m.Seen = false
	m.SeenAt = nil
	t.messages[m.AppointmentID] = append(t.writeThread(m.AppointmentID), m)
	return nil
}

func (t *memTx) MarkMessagesSeen(_ context.Context, appointmentID, readerID string, at time.Time) ([]model.Message, error) {
	unseen := func(m model.Message) bool { return m.ReceiverID == readerID && !m.Seen }
	if !slices.ContainsFunc(t.messages[appointmentID], unseen) {
		return nil, nil
	}
	msgs := t.writeThread(appointmentID)
	var marked []model.Message
	for i := range msgs {
		if msgs[i].ReceiverID != readerID || msgs[i].Seen {
			continue
		}
		seenAt := at
		msgs[i].Seen = true
		msgs[i].SeenAt = &seenAt
		marked = append(marked, msgs[i])
	}
	return marked, nil
}

func (t *memTx) InsertOutbox(ctx context.Context, evt outbox.Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	t.pending = append(t.pending, outbox.Record{
		EventID:       uuid.NewString(),
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       slices.Clone(evt.Payload),
		Traceparent:   traceparent,
		Tracestate:    tracestate,
		CreatedAt:     time.Now(),
	})
	return nil
}
