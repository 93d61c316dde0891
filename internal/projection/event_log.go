package projection

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/event"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const watermarkWorker = "event_log"

// ErrChainBroken is returned by Verify when a stored event does not extend
// the chain formed by the events before it.
var ErrChainBroken = errors.New("event chain broken")

// Record is one row of the event log.
type Record struct {
	Sequence   int64
	EventID    uuid.UUID
	EventType  string
	Owner      uuid.UUID
	Payload    []byte
	Hash       event.Digest
	PrevHash   event.Digest
	OccurredAt time.Time
}

// EventLog appends published envelopes to projections.event_log and moves
// the watermark. It satisfies ingestion.Sink, so the outbound publisher can
// drive it like any broker.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Name() string { return "postgres" }

func (l *EventLog) Close() error { return nil }

// Publish stores one envelope. Re-publishing a sequence is a no-op.
func (l *EventLog) Publish(ctx context.Context, env event.Envelope, _ []byte) error {
	// The chain hashes the payload alone, not the whole envelope.
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.event_log
			(sequence, event_id, event_type, owner, payload, hash, prev_hash, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, env.EventID, env.EventType.String(), env.Owner, payload,
		env.Hash[:], env.PrevHash[:], env.Timestamp); err != nil {
		return fmt.Errorf("insert event %d: %w", env.Sequence, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, watermarkWorker, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Watermark returns the highest stored sequence, or -1 for an empty log.
func (l *EventLog) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := l.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, watermarkWorker,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// Tip returns the sequence the next event should get and the hash it must
// chain to. An empty log starts at 0 on the genesis hash.
func (l *EventLog) Tip(ctx context.Context) (int64, [32]byte, error) {
	var (
		seq  int64
		hash []byte
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT sequence, hash FROM projections.event_log ORDER BY sequence DESC LIMIT 1
	`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.GenesisHash(), nil
	}
	if err != nil {
		return 0, [32]byte{}, fmt.Errorf("event log tip: %w", err)
	}
	var tip [32]byte
	copy(tip[:], hash)
	return seq + 1, tip, nil
}

// Records returns up to limit events with sequence >= from, in order.
func (l *EventLog) Records(ctx context.Context, from int64, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, owner, payload, hash, prev_hash, occurred_at
		FROM projections.event_log
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r              Record
			hash, prevHash []byte
		)
		if err := rows.Scan(&r.Sequence, &r.EventID, &r.EventType, &r.Owner, &r.Payload,
			&hash, &prevHash, &r.OccurredAt); err != nil {
			return nil, err
		}
		copy(r.Hash[:], hash)
		copy(r.PrevHash[:], prevHash)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Verify recomputes the hash chain over the whole log and returns the number
// of events checked. Gaps left by dropped events show up as ErrChainBroken.
func (l *EventLog) Verify(ctx context.Context, pageSize int) (int64, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	var (
		checked int64
		next    int64
		hasher  = core.NewStateHasher()
	)
	for {
		page, err := l.Records(ctx, next, pageSize)
		if err != nil {
			return checked, err
		}
		for _, r := range page {
			if r.Sequence != next {
				return checked, fmt.Errorf("%w: missing sequence %d", ErrChainBroken, next)
			}
			if r.PrevHash != event.Digest(hasher.GetPrevHash()) {
				return checked, fmt.Errorf("%w: sequence %d prev hash mismatch", ErrChainBroken, r.Sequence)
			}
			if event.Digest(hasher.ComputeHash(r.Sequence, r.Payload)) != r.Hash {
				return checked, fmt.Errorf("%w: sequence %d hash mismatch", ErrChainBroken, r.Sequence)
			}
			checked++
			next++
		}
		if len(page) < pageSize {
			return checked, nil
		}
	}
}
