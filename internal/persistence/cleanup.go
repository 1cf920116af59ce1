package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// ClearDatabase removes every archived session and sample and reports how
// many sessions were dropped. Sample ids restart from 1 afterwards.
func ClearDatabase(ctx context.Context, db *sql.DB) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("database is not initialized")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear database tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	//goland:noinspection SqlWithoutWhere
	if _, err := tx.ExecContext(ctx, `DELETE FROM telemetry;`); err != nil {
		return 0, fmt.Errorf("clear telemetry: %w", err)
	}
	//goland:noinspection SqlWithoutWhere
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions;`)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count cleared sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'telemetry';`); err != nil {
		return 0, fmt.Errorf("reset telemetry ids: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear database tx: %w", err)
	}

	return int(removed), nil
}
