package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/cinema-tickets/internal/model"
)

// MemoryStore keeps all state in process.  Per-screening scopes serialize
// writers of one screening while a short-lived state lock publishes each
// commit.  With a Persister attached every commit is first written as a
// full snapshot and only becomes visible once the write succeeded.
type MemoryStore struct {
	scopes    *ScopeLocker
	mu        sync.RWMutex
	state     *memState
	ticketSeq atomic.Uint64
	persist   Persister
	writer    chan struct{}
	now       func() time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for issuedAt and createdAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore returns an empty store without persistence.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		scopes: NewScopeLocker(),
		state:  newMemState(),
		writer: make(chan struct{}, 1),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type memState struct {
	screenings      map[uint64]model.Screening
	tickets         map[uint64]model.Ticket
	users           map[uint64]model.User
	reservations    map[string]model.Reservation
	releases        map[uint64]model.TicketRelease
	nextScreeningID uint64
	nextTicketID    uint64
	nextUserID      uint64
}

func newMemState() *memState {
	return &memState{
		screenings:   make(map[uint64]model.Screening),
		tickets:      make(map[uint64]model.Ticket),
		users:        make(map[uint64]model.User),
		reservations: make(map[string]model.Reservation),
		releases:     make(map[uint64]model.TicketRelease),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.screenings {
		c.screenings[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.reservations {
		v.TicketIDs = append([]uint64(nil), v.TicketIDs...)
		c.reservations[k] = v
	}
	for k, v := range s.releases {
		c.releases[k] = v
	}
	c.nextScreeningID = s.nextScreeningID
	c.nextTicketID = s.nextTicketID
	c.nextUserID = s.nextUserID
	return c
}

// activeTickets counts the ticket rows of one screening.
func (s *memState) activeTickets(screeningID uint64) int {
	n := 0
	for _, t := range s.tickets {
		if t.ScreeningID == screeningID {
			n++
		}
	}
	return n
}

func reservationKey(userID uint64, key string) string {
	return strconv.FormatUint(userID, 10) + "|" + key
}

// commit publishes a change.  apply must check everything before it
// mutates st: without a persister st is the live state.  With a persister
// commits take turns on the writer slot and the snapshot is saved outside
// the state lock, so a slow save stalls other writers but not readers.
// A writer still waiting for the slot when ctx expires gives up.
func (m *MemoryStore) commit(ctx context.Context, apply func(st *memState) error) error {
	if m.persist == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return transient(err)
		}
		if err := apply(m.state); err != nil {
			return err
		}
		m.syncTicketSeq(m.state)
		return nil
	}

	select {
	case m.writer <- struct{}{}:
	case <-ctx.Done():
		return transient(ctx.Err())
	}
	defer func() { <-m.writer }()
	if err := ctx.Err(); err != nil {
		return transient(err)
	}

	m.mu.RLock()
	next := m.state.clone()
	m.mu.RUnlock()
	if err := apply(next); err != nil {
		return err
	}
	m.syncTicketSeq(next)
	if err := m.persist.Save(next.snapshot()); err != nil {
		return transient(err)
	}
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) syncTicketSeq(st *memState) {
	if seq := m.ticketSeq.Load(); seq > st.nextTicketID {
		st.nextTicketID = seq
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateScreening(ctx context.Context, s *model.Screening) error {
	if s.TotalSeats < 0 {
		return fmt.Errorf("%w: negative capacity", ErrConflict)
	}
	row := *s
	row.AvailableSeats = row.TotalSeats
	row.StartTime = row.StartTime.UTC()
	err := m.commit(ctx, func(st *memState) error {
		st.nextScreeningID++
		row.ID = st.nextScreeningID
		st.screenings[row.ID] = row
		return nil
	})
	if err != nil {
		return err
	}
	*s = row
	return nil
}

func (m *MemoryStore) GetScreening(_ context.Context, id uint64) (model.Screening, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.state.screenings[id]
	if !ok {
		return model.Screening{}, ErrScreeningNotFound
	}
	return s, nil
}

// ListScreenings returns screenings ordered by start time, then id.
func (m *MemoryStore) ListScreenings(_ context.Context) ([]model.Screening, error) {
	m.mu.RLock()
	out := make([]model.Screening, 0, len(m.state.screenings))
	for _, s := range m.state.screenings {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (m *MemoryStore) GetTicket(_ context.Context, id uint64) (model.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.state.tickets[id]
	if !ok {
		return model.Ticket{}, ErrTicketNotFound
	}
	return t, nil
}

func (m *MemoryStore) ListTicketsByUser(_ context.Context, userID uint64) ([]model.Ticket, error) {
	return m.filterTickets(func(t model.Ticket) bool { return t.UserID == userID }), nil
}

func (m *MemoryStore) ListTicketsByScreening(_ context.Context, screeningID uint64) ([]model.Ticket, error) {
	return m.filterTickets(func(t model.Ticket) bool { return t.ScreeningID == screeningID }), nil
}

func (m *MemoryStore) filterTickets(keep func(model.Ticket) bool) []model.Ticket {
	m.mu.RLock()
	out := make([]model.Ticket, 0)
	for _, t := range m.state.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *model.User) error {
	row := *u
	row.Username = strings.TrimSpace(row.Username)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now()
	}
	err := m.commit(ctx, func(st *memState) error {
		for _, existing := range st.users {
			if strings.EqualFold(existing.Username, row.Username) {
				return ErrUsernameExists
			}
		}
		st.nextUserID++
		row.ID = st.nextUserID
		st.users[row.ID] = row
		return nil
	})
	if err != nil {
		return err
	}
	*u = row
	return nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	username = strings.TrimSpace(username)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.state.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return model.User{}, ErrUserNotFound
}

func (m *MemoryStore) GetUserByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.state.users[id]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryStore) WithScreening(ctx context.Context, screeningID uint64, fn func(tx ScreeningTx) error) error {
	release, err := m.scopes.Acquire(ctx, screeningID)
	if err != nil {
		return transient(err)
	}
	defer release()

	s, err := m.GetScreening(ctx, screeningID)
	if err != nil {
		return err
	}
	tx := &memTx{store: m, screening: s, cancelled: make(map[uint64]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(ctx, tx.apply)
}

// memTx stages the changes of one WithScreening callback.
type memTx struct {
	store       *MemoryStore
	screening   model.Screening
	deleted     bool
	issued      []model.Ticket
	cancelled   map[uint64]bool
	released    []model.TicketRelease
	reservation *model.Reservation
}

func (t *memTx) Screening() model.Screening { return t.screening }

func (t *memTx) Reserve(quantity int) (int, error) {
	if t.deleted {
		return 0, ErrScreeningNotFound
	}
	if quantity <= 0 {
		return t.screening.AvailableSeats, fmt.Errorf("%w: quantity must be positive", ErrConflict)
	}
	if quantity > t.screening.AvailableSeats {
		return t.screening.AvailableSeats, &CapacityError{Requested: quantity, Available: t.screening.AvailableSeats}
	}
	t.screening.AvailableSeats -= quantity
	t.screening.Version++
	return t.screening.AvailableSeats, nil
}

func (t *memTx) Release(ticketIDs ...uint64) (int, error) {
	if t.deleted {
		return 0, ErrScreeningNotFound
	}
	now := t.store.now()
	staged := make([]model.TicketRelease, 0, len(ticketIDs))
	t.store.mu.RLock()
	for _, id := range ticketIDs {
		if _, done := t.store.state.releases[id]; done || t.releasedInTx(id) || containsRelease(staged, id) {
			continue
		}
		staged = append(staged, model.TicketRelease{TicketID: id, ScreeningID: t.screening.ID, ReleasedAt: now})
	}
	t.store.mu.RUnlock()

	if t.screening.AvailableSeats+len(staged) > t.screening.TotalSeats {
		return t.screening.AvailableSeats, fmt.Errorf("%w: release exceeds capacity", ErrConflict)
	}
	t.released = append(t.released, staged...)
	t.screening.AvailableSeats += len(staged)
	if len(staged) > 0 {
		t.screening.Version++
	}
	return t.screening.AvailableSeats, nil
}

func (t *memTx) releasedInTx(id uint64) bool {
	return containsRelease(t.released, id)
}

func containsRelease(rs []model.TicketRelease, id uint64) bool {
	for _, r := range rs {
		if r.TicketID == id {
			return true
		}
	}
	return false
}

func (t *memTx) Issue(userID uint64, quantity int) ([]model.Ticket, error) {
	if t.deleted {
		return nil, ErrScreeningNotFound
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrConflict)
	}
	end := t.store.ticketSeq.Add(uint64(quantity))
	now := t.store.now()
	out := make([]model.Ticket, 0, quantity)
	for id := end - uint64(quantity) + 1; id <= end; id++ {
		out = append(out, model.Ticket{ID: id, ScreeningID: t.screening.ID, UserID: userID, IssuedAt: now})
	}
	t.issued = append(t.issued, out...)
	return out, nil
}

func (t *memTx) HasTicket(userID uint64) (bool, error) {
	for _, tk := range t.issued {
		if tk.UserID == userID {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, tk := range t.store.state.tickets {
		if tk.ScreeningID == t.screening.ID && tk.UserID == userID && !t.cancelled[tk.ID] {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) Ticket(id uint64) (model.Ticket, error) {
	if t.cancelled[id] {
		return model.Ticket{}, ErrTicketNotFound
	}
	for _, tk := range t.issued {
		if tk.ID == id {
			return tk, nil
		}
	}
	t.store.mu.RLock()
	tk, ok := t.store.state.tickets[id]
	t.store.mu.RUnlock()
	if !ok || tk.ScreeningID != t.screening.ID {
		return model.Ticket{}, ErrTicketNotFound
	}
	return tk, nil
}

func (t *memTx) Cancel(ticketID uint64) error {
	if _, err := t.Ticket(ticketID); err != nil {
		return err
	}
	for i, tk := range t.issued {
		if tk.ID == ticketID {
			t.issued = append(t.issued[:i], t.issued[i+1:]...)
			return nil
		}
	}
	t.cancelled[ticketID] = true
	return nil
}

func (t *memTx) FindReservation(userID uint64, key string) (*model.Reservation, error) {
	if r := t.reservation; r != nil && r.UserID == userID && r.IdempotencyKey == key {
		cp := *r
		return &cp, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.state.reservations[reservationKey(userID, key)]
	if !ok {
		return nil, nil
	}
	r.TicketIDs = append([]uint64(nil), r.TicketIDs...)
	return &r, nil
}

func (t *memTx) SaveReservation(r model.Reservation) error {
	if existing, _ := t.FindReservation(r.UserID, r.IdempotencyKey); existing != nil {
		return ErrIdempotencyConflict
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.store.now()
	}
	r.TicketIDs = append([]uint64(nil), r.TicketIDs...)
	t.reservation = &r
	return nil
}

func (t *memTx) Update(startTime time.Time, totalSeats int) error {
	if t.deleted {
		return ErrScreeningNotFound
	}
	sold := t.screening.Sold()
	if totalSeats < sold || totalSeats < 0 {
		return fmt.Errorf("%w: %d seats already sold", ErrConflict, sold)
	}
	t.screening.StartTime = startTime.UTC()
	t.screening.TotalSeats = totalSeats
	t.screening.AvailableSeats = totalSeats - sold
	t.screening.Version++
	return nil
}

func (t *memTx) Delete() error {
	if t.screening.Sold() > 0 || len(t.issued) > 0 {
		return fmt.Errorf("%w: screening has tickets", ErrConflict)
	}
	t.deleted = true
	return nil
}

// apply checks the staged changes against st and then writes them.
func (t *memTx) apply(st *memState) error {
	id := t.screening.ID
	if r := t.reservation; r != nil {
		if _, taken := st.reservations[reservationKey(r.UserID, r.IdempotencyKey)]; taken {
			return ErrIdempotencyConflict
		}
	}
	if t.deleted {
		if st.activeTickets(id) > 0 {
			return fmt.Errorf("%w: screening has tickets", ErrConflict)
		}
		delete(st.screenings, id)
		for k, rel := range st.releases {
			if rel.ScreeningID == id {
				delete(st.releases, k)
			}
		}
		for k, r := range st.reservations {
			if r.ScreeningID == id {
				delete(st.reservations, k)
			}
		}
		return nil
	}
	rows := st.activeTickets(id) - len(t.cancelled) + len(t.issued)
	if rows != t.screening.Sold() {
		return fmt.Errorf("%w: %d ticket rows for %d sold seats", ErrConflict, rows, t.screening.Sold())
	}

	st.screenings[id] = t.screening
	for tid := range t.cancelled {
		delete(st.tickets, tid)
	}
	for _, tk := range t.issued {
		st.tickets[tk.ID] = tk
	}
	for _, rel := range t.released {
		st.releases[rel.TicketID] = rel
	}
	if r := t.reservation; r != nil {
		st.reservations[reservationKey(r.UserID, r.IdempotencyKey)] = *r
	}
	return nil
}
