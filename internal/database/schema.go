package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables used by the MySQL store.  available_seats is
// kept beside total_seats so a reservation is one conditional UPDATE on the
// locked row.  reservations is keyed by (user_id, idempotency_key) and
// ticket_releases by ticket_id; both keys are what make retries safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS screenings (
		id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		movie_id        BIGINT UNSIGNED NOT NULL,
		start_time      DATETIME        NOT NULL,
		total_seats     INT             NOT NULL,
		available_seats INT             NOT NULL,
		version         BIGINT UNSIGNED NOT NULL DEFAULT 0,
		PRIMARY KEY (id),
		KEY idx_screenings_start (start_time),
		CONSTRAINT chk_screenings_seats CHECK (available_seats >= 0 AND available_seats <= total_seats)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		username      VARCHAR(64)     NOT NULL,
		email         VARCHAR(255)    NOT NULL,
		password_hash VARCHAR(255)    NOT NULL,
		role          ENUM('user','manager') NOT NULL DEFAULT 'user',
		created_at    DATETIME        NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_users_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		screening_id BIGINT UNSIGNED NOT NULL,
		user_id      BIGINT UNSIGNED NOT NULL,
		issued_at    DATETIME        NOT NULL,
		PRIMARY KEY (id),
		KEY idx_tickets_screening_user (screening_id, user_id),
		KEY idx_tickets_user (user_id),
		CONSTRAINT fk_tickets_screening FOREIGN KEY (screening_id) REFERENCES screenings (id),
		CONSTRAINT fk_tickets_user FOREIGN KEY (user_id) REFERENCES users (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS reservations (
		user_id         BIGINT UNSIGNED NOT NULL,
		idempotency_key VARCHAR(128)    NOT NULL,
		screening_id    BIGINT UNSIGNED NOT NULL,
		quantity        INT             NOT NULL,
		ticket_ids      TEXT            NOT NULL,
		available_after INT             NOT NULL,
		created_at      DATETIME        NOT NULL,
		PRIMARY KEY (user_id, idempotency_key),
		KEY idx_reservations_screening (screening_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ticket_releases (
		ticket_id    BIGINT UNSIGNED NOT NULL,
		screening_id BIGINT UNSIGNED NOT NULL,
		released_at  DATETIME        NOT NULL,
		PRIMARY KEY (ticket_id),
		KEY idx_releases_screening (screening_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing table.  Statements are idempotent so it is
// run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
