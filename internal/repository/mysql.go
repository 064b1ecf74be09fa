package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/cinema-tickets/internal/model"
)

// MySQLStore persists everything in MySQL.  WithScreening opens one SQL
// transaction and locks the screening row with SELECT ... FOR UPDATE, so
// the row lock is the exclusion scope and the transaction is the unit of
// work.
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *MySQLStore) Close() error { return s.db.Close() }

// isDuplicate reports a unique-key violation (ER_DUP_ENTRY).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

const screeningCols = "id, movie_id, start_time, total_seats, available_seats, version"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScreening(r rowScanner) (model.Screening, error) {
	var sc model.Screening
	err := r.Scan(&sc.ID, &sc.MovieID, &sc.StartTime, &sc.TotalSeats, &sc.AvailableSeats, &sc.Version)
	return sc, err
}

func scanTicket(r rowScanner) (model.Ticket, error) {
	var t model.Ticket
	err := r.Scan(&t.ID, &t.ScreeningID, &t.UserID, &t.IssuedAt)
	return t, err
}

func (s *MySQLStore) CreateScreening(ctx context.Context, sc *model.Screening) error {
	if sc.TotalSeats < 0 {
		return fmt.Errorf("%w: negative capacity", ErrConflict)
	}
	start := sc.StartTime.UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO screenings (movie_id, start_time, total_seats, available_seats) VALUES (?,?,?,?)",
		sc.MovieID, start, sc.TotalSeats, sc.TotalSeats)
	if err != nil {
		return transient(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return transient(err)
	}
	sc.ID = uint64(id)
	sc.StartTime = start
	sc.AvailableSeats = sc.TotalSeats
	return nil
}

func (s *MySQLStore) GetScreening(ctx context.Context, id uint64) (model.Screening, error) {
	sc, err := scanScreening(s.db.QueryRowContext(ctx,
		"SELECT "+screeningCols+" FROM screenings WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Screening{}, ErrScreeningNotFound
	}
	if err != nil {
		return model.Screening{}, transient(err)
	}
	return sc, nil
}

func (s *MySQLStore) ListScreenings(ctx context.Context) ([]model.Screening, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+screeningCols+" FROM screenings ORDER BY start_time, id")
	if err != nil {
		return nil, transient(err)
	}
	defer rows.Close()
	out := make([]model.Screening, 0)
	for rows.Next() {
		sc, err := scanScreening(rows)
		if err != nil {
			return nil, transient(err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(err)
	}
	return out, nil
}

func (s *MySQLStore) GetTicket(ctx context.Context, id uint64) (model.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx,
		"SELECT id, screening_id, user_id, issued_at FROM tickets WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, ErrTicketNotFound
	}
	if err != nil {
		return model.Ticket{}, transient(err)
	}
	return t, nil
}

func (s *MySQLStore) ListTicketsByUser(ctx context.Context, userID uint64) ([]model.Ticket, error) {
	return s.queryTickets(ctx,
		"SELECT id, screening_id, user_id, issued_at FROM tickets WHERE user_id = ? ORDER BY id", userID)
}

func (s *MySQLStore) ListTicketsByScreening(ctx context.Context, screeningID uint64) ([]model.Ticket, error) {
	return s.queryTickets(ctx,
		"SELECT id, screening_id, user_id, issued_at FROM tickets WHERE screening_id = ? ORDER BY id", screeningID)
}

func (s *MySQLStore) queryTickets(ctx context.Context, q string, arg uint64) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, transient(err)
	}
	defer rows.Close()
	out := make([]model.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, transient(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, transient(err)
	}
	return out, nil
}

// CreateUser inserts u and fills in its id.  The username column carries a
// unique index, so a duplicate surfaces as ErrUsernameExists.
func (s *MySQLStore) CreateUser(ctx context.Context, u *model.User) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, role, created_at) VALUES (?,?,?,?,?)",
		u.Username, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrUsernameExists
		}
		return transient(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return transient(err)
	}
	u.ID = uint64(id)
	return nil
}

func (s *MySQLStore) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return s.getUser(ctx, "username = ?", strings.TrimSpace(username))
}

func (s *MySQLStore) GetUserByID(ctx context.Context, id uint64) (model.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *MySQLStore) getUser(ctx context.Context, where string, arg any) (model.User, error) {
	var u model.User
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, role, created_at FROM users WHERE "+where+" LIMIT 1", arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, transient(err)
	}
	u.Role = model.Role(role)
	return u, nil
}

func (s *MySQLStore) WithScreening(ctx context.Context, screeningID uint64, fn func(tx ScreeningTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	sc, err := scanScreening(tx.QueryRowContext(ctx,
		"SELECT "+screeningCols+" FROM screenings WHERE id = ? FOR UPDATE", screeningID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrScreeningNotFound
	}
	if err != nil {
		return transient(err)
	}

	if err := fn(&mysqlTx{ctx: ctx, tx: tx, screening: sc, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return transient(err)
	}
	committed = true
	return nil
}

type mysqlTx struct {
	ctx       context.Context
	tx        *sql.Tx
	screening model.Screening
	deleted   bool
	now       func() time.Time
}

func (t *mysqlTx) Screening() model.Screening { return t.screening }

func (t *mysqlTx) Reserve(quantity int) (int, error) {
	if t.deleted {
		return 0, ErrScreeningNotFound
	}
	if quantity <= 0 {
		return t.screening.AvailableSeats, fmt.Errorf("%w: quantity must be positive", ErrConflict)
	}
	if quantity > t.screening.AvailableSeats {
		return t.screening.AvailableSeats, &CapacityError{Requested: quantity, Available: t.screening.AvailableSeats}
	}
	res, err := t.tx.ExecContext(t.ctx,
		"UPDATE screenings SET available_seats = available_seats - ?, version = version + 1 WHERE id = ? AND available_seats >= ?",
		quantity, t.screening.ID, quantity)
	if err != nil {
		return t.screening.AvailableSeats, transient(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return t.screening.AvailableSeats, transient(err)
	} else if n == 0 {
		return t.screening.AvailableSeats, &CapacityError{Requested: quantity, Available: t.screening.AvailableSeats}
	}
	t.screening.AvailableSeats -= quantity
	t.screening.Version++
	return t.screening.AvailableSeats, nil
}

// Release records one ticket_releases row per ticket.  The table is keyed
// by ticket id, so INSERT IGNORE skips tickets that were released before.
func (t *mysqlTx) Release(ticketIDs ...uint64) (int, error) {
	if t.deleted {
		return 0, ErrScreeningNotFound
	}
	now := t.now()
	released := 0
	for _, id := range ticketIDs {
		res, err := t.tx.ExecContext(t.ctx,
			"INSERT IGNORE INTO ticket_releases (ticket_id, screening_id, released_at) VALUES (?,?,?)",
			id, t.screening.ID, now)
		if err != nil {
			return t.screening.AvailableSeats, transient(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return t.screening.AvailableSeats, transient(err)
		}
		released += int(n)
	}
	if released == 0 {
		return t.screening.AvailableSeats, nil
	}
	if t.screening.AvailableSeats+released > t.screening.TotalSeats {
		return t.screening.AvailableSeats, fmt.Errorf("%w: release exceeds capacity", ErrConflict)
	}
	if _, err := t.tx.ExecContext(t.ctx,
		"UPDATE screenings SET available_seats = available_seats + ?, version = version + 1 WHERE id = ?",
		released, t.screening.ID); err != nil {
		return t.screening.AvailableSeats, transient(err)
	}
	t.screening.AvailableSeats += released
	t.screening.Version++
	return t.screening.AvailableSeats, nil
}

func (t *mysqlTx) Issue(userID uint64, quantity int) ([]model.Ticket, error) {
	if t.deleted {
		return nil, ErrScreeningNotFound
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrConflict)
	}
	now := t.now()
	out := make([]model.Ticket, 0, quantity)
	for i := 0; i < quantity; i++ {
		res, err := t.tx.ExecContext(t.ctx,
			"INSERT INTO tickets (screening_id, user_id, issued_at) VALUES (?,?,?)",
			t.screening.ID, userID, now)
		if err != nil {
			return nil, transient(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, transient(err)
		}
		out = append(out, model.Ticket{ID: uint64(id), ScreeningID: t.screening.ID, UserID: userID, IssuedAt: now})
	}
	return out, nil
}

func (t *mysqlTx) HasTicket(userID uint64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT 1 FROM tickets WHERE screening_id = ? AND user_id = ? LIMIT 1",
		t.screening.ID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, transient(err)
	}
	return true, nil
}

func (t *mysqlTx) Ticket(id uint64) (model.Ticket, error) {
	tk, err := scanTicket(t.tx.QueryRowContext(t.ctx,
		"SELECT id, screening_id, user_id, issued_at FROM tickets WHERE id = ? AND screening_id = ?",
		id, t.screening.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, ErrTicketNotFound
	}
	if err != nil {
		return model.Ticket{}, transient(err)
	}
	return tk, nil
}

func (t *mysqlTx) Cancel(ticketID uint64) error {
	res, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM tickets WHERE id = ? AND screening_id = ?", ticketID, t.screening.ID)
	if err != nil {
		return transient(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return transient(err)
	}
	if n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (t *mysqlTx) FindReservation(userID uint64, key string) (*model.Reservation, error) {
	var r model.Reservation
	var ids string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT user_id, idempotency_key, screening_id, quantity, ticket_ids, available_after, created_at
		   FROM reservations WHERE user_id = ? AND idempotency_key = ?`, userID, key).
		Scan(&r.UserID, &r.IdempotencyKey, &r.ScreeningID, &r.Quantity, &ids, &r.AvailableAfter, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, transient(err)
	}
	if r.TicketIDs, err = parseIDList(ids); err != nil {
		return nil, fmt.Errorf("reservation %q: %w", key, err)
	}
	return &r, nil
}

func (t *mysqlTx) SaveReservation(r model.Reservation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO reservations (user_id, idempotency_key, screening_id, quantity, ticket_ids, available_after, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		r.UserID, r.IdempotencyKey, r.ScreeningID, r.Quantity, formatIDList(r.TicketIDs), r.AvailableAfter, r.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrIdempotencyConflict
		}
		return transient(err)
	}
	return nil
}

func (t *mysqlTx) Update(startTime time.Time, totalSeats int) error {
	if t.deleted {
		return ErrScreeningNotFound
	}
	sold := t.screening.Sold()
	if totalSeats < sold || totalSeats < 0 {
		return fmt.Errorf("%w: %d seats already sold", ErrConflict, sold)
	}
	start := startTime.UTC()
	if _, err := t.tx.ExecContext(t.ctx,
		"UPDATE screenings SET start_time = ?, total_seats = ?, available_seats = ?, version = version + 1 WHERE id = ?",
		start, totalSeats, totalSeats-sold, t.screening.ID); err != nil {
		return transient(err)
	}
	t.screening.StartTime = start
	t.screening.TotalSeats = totalSeats
	t.screening.AvailableSeats = totalSeats - sold
	t.screening.Version++
	return nil
}

func (t *mysqlTx) Delete() error {
	var n int
	if err := t.tx.QueryRowContext(t.ctx,
		"SELECT COUNT(*) FROM tickets WHERE screening_id = ?", t.screening.ID).Scan(&n); err != nil {
		return transient(err)
	}
	if n > 0 {
		return fmt.Errorf("%w: screening has tickets", ErrConflict)
	}
	for _, q := range []string{
		"DELETE FROM ticket_releases WHERE screening_id = ?",
		"DELETE FROM reservations WHERE screening_id = ?",
		"DELETE FROM screenings WHERE id = ?",
	} {
		if _, err := t.tx.ExecContext(t.ctx, q, t.screening.ID); err != nil {
			return transient(err)
		}
	}
	t.deleted = true
	return nil
}

// formatIDList stores ticket ids as a comma separated list.
func formatIDList(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

func parseIDList(s string) ([]uint64, error) {
	if s == "" {
		return []uint64{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
