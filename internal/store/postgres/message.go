package postgres

import (
	"context"

	"chatrelay/internal/store"
)

func (r *implStore) CreateMessage(ctx context.Context, sender, receiver, body string) (store.Message, error) {
	const q = `
		INSERT INTO messages (sender_id, receiver_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, sender_id, receiver_id, body, is_read, created_at`

	var msg store.Message
	err := r.db.QueryRowContext(ctx, q, sender, receiver, body).
		Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Body, &msg.IsRead, &msg.CreatedAt)
	if err != nil {
		r.l.Errorf(ctx, "internal.store.postgres.CreateMessage.Scan: %v", err)
		return store.Message{}, err
	}

	return msg, nil
}

func (r *implStore) Conversation(ctx context.Context, a, b string) ([]store.Message, error) {
	const q = `
		SELECT id, sender_id, receiver_id, body, is_read, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, q, a, b)
	if err != nil {
		r.l.Errorf(ctx, "internal.store.postgres.Conversation.Query: %v", err)
		return nil, err
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Body, &msg.IsRead, &msg.CreatedAt); err != nil {
			r.l.Errorf(ctx, "internal.store.postgres.Conversation.Scan: %v", err)
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		r.l.Errorf(ctx, "internal.store.postgres.Conversation.Rows: %v", err)
		return nil, err
	}

	return msgs, nil
}

func (r *implStore) MarkRead(ctx context.Context, id int64) error {
	const q = `UPDATE messages SET is_read = TRUE WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		r.l.Errorf(ctx, "internal.store.postgres.MarkRead.Exec: %v", err)
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		r.l.Errorf(ctx, "internal.store.postgres.MarkRead.RowsAffected: %v", err)
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}
