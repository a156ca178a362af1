package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"

	"mv-hedge-bot/internal/state"
)

type Journal struct {
	db *sql.DB
}

func New(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS cycles (
		cycle_id TEXT PRIMARY KEY,
		cycle_number INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		state TEXT NOT NULL,
		finished_at_ms INTEGER NOT NULL,
		record TEXT NOT NULL
	)`)
	return err
}

func (j *Journal) SaveCycle(ctx context.Context, record state.CycleRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `INSERT INTO cycles (cycle_id, cycle_number, symbol, state, finished_at_ms, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id) DO UPDATE SET
			cycle_number = excluded.cycle_number,
			symbol = excluded.symbol,
			state = excluded.state,
			finished_at_ms = excluded.finished_at_ms,
			record = excluded.record`,
		record.CycleID, record.CycleNumber, record.Symbol, record.State, record.FinishedAtMS, string(payload))
	return err
}

func (j *Journal) LastCycle(ctx context.Context) (state.CycleRecord, bool, error) {
	var payload string
	err := j.db.QueryRowContext(ctx, `SELECT record FROM cycles ORDER BY finished_at_ms DESC, cycle_number DESC LIMIT 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.CycleRecord{}, false, nil
		}
		return state.CycleRecord{}, false, err
	}
	var record state.CycleRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return state.CycleRecord{}, false, err
	}
	return record, true, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
