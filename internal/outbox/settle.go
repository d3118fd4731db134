package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// settle closes out a claimed batch one gym at a time. Within a gym's
// transaction the failed events are copied into outbox_dlq and every event of
// the batch leaves the pending set, so an event is never both dead-lettered
// and still waiting to be published.
func (d *Dispatcher) settle(ctx context.Context, messages []Message, failures map[int64]string) error {
	byGym := make(map[string][]Message)
	gyms := make([]string, 0)
	for _, msg := range messages {
		if _, ok := byGym[msg.GymID]; !ok {
			gyms = append(gyms, msg.GymID)
		}
		byGym[msg.GymID] = append(byGym[msg.GymID], msg)
	}

	for _, gymID := range gyms {
		if err := d.settleGym(ctx, gymID, byGym[gymID], failures); err != nil {
			return fmt.Errorf("settle gym %s: %w", gymID, err)
		}
	}
	return nil
}

func (d *Dispatcher) settleGym(ctx context.Context, gymID string, messages []Message, failures map[int64]string) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.gym_id', $1, true)", gymID); err != nil {
		return err
	}

	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
		reason, failed := failures[msg.EventID]
		if !failed {
			continue
		}
		if err := deadLetter(ctx, tx, msg, reason); err != nil {
			return fmt.Errorf("dead-letter event %d: %w", msg.EventID, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	now := time.Now()
	for _, msg := range messages {
		if _, failed := failures[msg.EventID]; failed {
			recordDeadLettered(msg)
			continue
		}
		recordDelivered(msg, now)
	}
	return nil
}

func deadLetter(ctx context.Context, tx pgx.Tx, msg Message, reason string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox_dlq (gym_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`,
		msg.GymID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	)
	return err
}
