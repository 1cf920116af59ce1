package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; user_version records how many ran.
var migrations = []string{
	`CREATE TABLE sessions (
		id         TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		source     TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE telemetry (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id        TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		timestamp         REAL NOT NULL,
		position_x        REAL NOT NULL,
		position_y        REAL NOT NULL,
		position_z        REAL NOT NULL,
		orientation_pitch REAL NOT NULL,
		orientation_yaw   REAL NOT NULL,
		orientation_roll  REAL NOT NULL,
		velocity_x        REAL NOT NULL,
		velocity_y        REAL NOT NULL,
		velocity_z        REAL NOT NULL,
		acceleration_x    REAL NOT NULL,
		acceleration_y    REAL NOT NULL,
		acceleration_z    REAL NOT NULL,
		voltage           INTEGER NOT NULL,
		motor_failure     INTEGER NOT NULL,
		sensor_error      INTEGER NOT NULL,
		system_health     INTEGER NOT NULL,
		sensor_status     INTEGER NOT NULL
	);
	CREATE INDEX idx_telemetry_session ON telemetry(session_id, id);`,
	`ALTER TABLE sessions ADD COLUMN label TEXT NOT NULL DEFAULT '';`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than supported %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
