package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-tickets/internal/model"
)

const snapshotVersion = 1

// Persister durably stores full snapshots of a MemoryStore.  Load returns
// (nil, nil) when nothing has been saved yet.
type Persister interface {
	Load() (*Snapshot, error)
	Save(s *Snapshot) error
}

// Snapshot is the on-disk form of the store state.
type Snapshot struct {
	Version         int                   `json:"version"`
	Screenings      []model.Screening     `json:"screenings"`
	Tickets         []model.Ticket        `json:"tickets"`
	Users           []model.User          `json:"users"`
	Reservations    []model.Reservation   `json:"reservations"`
	Releases        []model.TicketRelease `json:"releases"`
	NextScreeningID uint64                `json:"nextScreeningId"`
	NextTicketID    uint64                `json:"nextTicketId"`
	NextUserID      uint64                `json:"nextUserId"`
}

func (s *memState) snapshot() *Snapshot {
	snap := &Snapshot{
		Version:         snapshotVersion,
		Screenings:      make([]model.Screening, 0, len(s.screenings)),
		Tickets:         make([]model.Ticket, 0, len(s.tickets)),
		Users:           make([]model.User, 0, len(s.users)),
		Reservations:    make([]model.Reservation, 0, len(s.reservations)),
		Releases:        make([]model.TicketRelease, 0, len(s.releases)),
		NextScreeningID: s.nextScreeningID,
		NextTicketID:    s.nextTicketID,
		NextUserID:      s.nextUserID,
	}
	for _, v := range s.screenings {
		snap.Screenings = append(snap.Screenings, v)
	}
	for _, v := range s.tickets {
		snap.Tickets = append(snap.Tickets, v)
	}
	for _, v := range s.users {
		snap.Users = append(snap.Users, v)
	}
	for _, v := range s.reservations {
		snap.Reservations = append(snap.Reservations, v)
	}
	for _, v := range s.releases {
		snap.Releases = append(snap.Releases, v)
	}
	sort.Slice(snap.Screenings, func(i, j int) bool { return snap.Screenings[i].ID < snap.Screenings[j].ID })
	sort.Slice(snap.Tickets, func(i, j int) bool { return snap.Tickets[i].ID < snap.Tickets[j].ID })
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })
	sort.Slice(snap.Releases, func(i, j int) bool { return snap.Releases[i].TicketID < snap.Releases[j].TicketID })
	sort.Slice(snap.Reservations, func(i, j int) bool {
		a, b := snap.Reservations[i], snap.Reservations[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.IdempotencyKey < b.IdempotencyKey
	})
	return snap
}

func stateFromSnapshot(snap *Snapshot) *memState {
	st := newMemState()
	st.nextScreeningID = snap.NextScreeningID
	st.nextTicketID = snap.NextTicketID
	st.nextUserID = snap.NextUserID
	for _, v := range snap.Screenings {
		st.screenings[v.ID] = v
		if v.ID > st.nextScreeningID {
			st.nextScreeningID = v.ID
		}
	}
	for _, v := range snap.Tickets {
		st.tickets[v.ID] = v
		if v.ID > st.nextTicketID {
			st.nextTicketID = v.ID
		}
	}
	for _, v := range snap.Users {
		st.users[v.ID] = v
		if v.ID > st.nextUserID {
			st.nextUserID = v.ID
		}
	}
	for _, v := range snap.Reservations {
		st.reservations[reservationKey(v.UserID, v.IdempotencyKey)] = v
	}
	for _, v := range snap.Releases {
		st.releases[v.TicketID] = v
	}
	return st
}

// reconcile recomputes the ledger of every screening from its ticket rows
// and returns the ids it had to repair.  Ticket rows win: they are what
// users hold.
func reconcile(st *memState) []uint64 {
	counts := make(map[uint64]int, len(st.screenings))
	for _, t := range st.tickets {
		counts[t.ScreeningID]++
	}
	var repaired []uint64
	for id, s := range st.screenings {
		sold := counts[id]
		fixed := s
		if fixed.TotalSeats < sold {
			fixed.TotalSeats = sold
		}
		fixed.AvailableSeats = fixed.TotalSeats - sold
		if fixed != s {
			fixed.Version++
			st.screenings[id] = fixed
			repaired = append(repaired, id)
		}
	}
	sort.Slice(repaired, func(i, j int) bool { return repaired[i] < repaired[j] })
	return repaired
}

// NewPersistentStore loads the last snapshot from p, repairs any ledger
// that disagrees with its tickets, and returns a store that saves every
// commit through p.
func NewPersistentStore(p Persister, log logrus.FieldLogger, opts ...MemoryOption) (*MemoryStore, error) {
	m := NewMemoryStore(opts...)
	snap, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if snap.Version != snapshotVersion {
			return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
		}
		m.state = stateFromSnapshot(snap)
	}
	if repaired := reconcile(m.state); len(repaired) > 0 {
		for _, id := range repaired {
			s := m.state.screenings[id]
			log.WithFields(logrus.Fields{
				"screening_id":    id,
				"available_seats": s.AvailableSeats,
				"total_seats":     s.TotalSeats,
			}).Warn("seat ledger repaired from ticket rows")
		}
		if err := p.Save(m.state.snapshot()); err != nil {
			return nil, fmt.Errorf("save repaired snapshot: %w", err)
		}
	}
	m.ticketSeq.Store(m.state.nextTicketID)
	m.persist = p
	return m, nil
}

// NewFileStore is NewPersistentStore backed by a JSON file at path.
func NewFileStore(path string, log logrus.FieldLogger, opts ...MemoryOption) (*MemoryStore, error) {
	return NewPersistentStore(NewFileSnapshot(path), log, opts...)
}

// FileSnapshot keeps the snapshot in a single JSON file.  Saves write a
// temporary file in the same directory, fsync it and rename it over the
// old one, so a crash leaves either the previous or the new snapshot.
type FileSnapshot struct {
	path string
}

func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: path}
}

func (f *FileSnapshot) Load() (*Snapshot, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return &snap, nil
}

func (f *FileSnapshot) Save(snap *Snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return err
	}
	committed = true
	return nil
}
