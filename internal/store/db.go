package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"climbSync/internal/domain"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}

func Migrate(db *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := db.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            board_path TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS idx_rooms_last_activity ON rooms(last_activity_at);
        CREATE TABLE IF NOT EXISTS room_members (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            display_name TEXT NOT NULL,
            is_leader BOOLEAN NOT NULL DEFAULT false,
            connected_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS idx_room_members_room ON room_members(room_id);
        CREATE TABLE IF NOT EXISTS room_queues (
            room_id TEXT PRIMARY KEY REFERENCES rooms(id) ON DELETE CASCADE,
            queue JSONB NOT NULL DEFAULT '[]',
            current_item JSONB,
            version BIGINT NOT NULL DEFAULT 1,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
    `)
	return err
}

// Postgres is the pgx-backed Store. Queue writes compare-and-set on the
// version column and touch the owning room's activity time in the same
// transaction.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) UpsertRoom(ctx context.Context, roomID, boardPath string) error {
	_, err := p.db.Exec(ctx, `
        INSERT INTO rooms (id, board_path, last_activity_at)
        VALUES ($1, $2, now())
        ON CONFLICT (id) DO UPDATE SET board_path = EXCLUDED.board_path, last_activity_at = now()
    `, roomID, boardPath)
	if err != nil {
		return domain.Unavailable("upsert room", err)
	}
	return nil
}

func (p *Postgres) StaleRooms(ctx context.Context, before time.Time) ([]Room, error) {
	rows, err := p.db.Query(ctx, `
        SELECT id, board_path, last_activity_at
        FROM rooms
        WHERE last_activity_at < $1
        ORDER BY last_activity_at
    `, before)
	if err != nil {
		return nil, domain.Unavailable("stale rooms", err)
	}
	defer rows.Close()
	out := make([]Room, 0)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.BoardPath, &r.LastActivityAt); err != nil {
			return nil, domain.Unavailable("stale rooms", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("stale rooms", err)
	}
	return out, nil
}

// DeleteRoom removes the room only while it is still idle, so a join that
// refreshed last_activity_at after the staleness check keeps its row.
func (p *Postgres) DeleteRoom(ctx context.Context, roomID string, idleBefore time.Time) (bool, error) {
	tag, err := p.db.Exec(ctx, `
        DELETE FROM rooms WHERE id = $1 AND last_activity_at < $2
    `, roomID, idleBefore)
	if err != nil {
		return false, domain.Unavailable("delete room", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) UpsertMember(ctx context.Context, m Member) error {
	_, err := p.db.Exec(ctx, `
        INSERT INTO room_members (id, room_id, display_name, is_leader)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            room_id = EXCLUDED.room_id,
            display_name = EXCLUDED.display_name,
            is_leader = EXCLUDED.is_leader
    `, m.ID, m.RoomID, m.DisplayName, m.IsLeader)
	if err != nil {
		return domain.Unavailable("upsert member", err)
	}
	return nil
}

func (p *Postgres) RenameMember(ctx context.Context, memberID, name string) error {
	if _, err := p.db.Exec(ctx, `UPDATE room_members SET display_name = $2 WHERE id = $1`, memberID, name); err != nil {
		return domain.Unavailable("rename member", err)
	}
	return nil
}

func (p *Postgres) DeleteMember(ctx context.Context, memberID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM room_members WHERE id = $1`, memberID); err != nil {
		return domain.Unavailable("delete member", err)
	}
	return nil
}

// SetLeader clears every leader flag in the room and sets the one for
// memberID in a single statement.
func (p *Postgres) SetLeader(ctx context.Context, roomID, memberID string) error {
	_, err := p.db.Exec(ctx, `
        UPDATE room_members SET is_leader = (id = $2) WHERE room_id = $1
    `, roomID, memberID)
	if err != nil {
		return domain.Unavailable("set leader", err)
	}
	return nil
}

func (p *Postgres) Members(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := p.db.Query(ctx, `
        SELECT id, room_id, display_name, is_leader
        FROM room_members
        WHERE room_id = $1
        ORDER BY id
    `, roomID)
	if err != nil {
		return nil, domain.Unavailable("members", err)
	}
	defer rows.Close()
	out := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.RoomID, &m.DisplayName, &m.IsLeader); err != nil {
			return nil, domain.Unavailable("members", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("members", err)
	}
	return out, nil
}

func (p *Postgres) ReadQueue(ctx context.Context, roomID string) (domain.QueueState, error) {
	var (
		queueJSON   []byte
		currentJSON []byte
		st          domain.QueueState
	)
	err := p.db.QueryRow(ctx, `
        SELECT queue, current_item, version FROM room_queues WHERE room_id = $1
    `, roomID).Scan(&queueJSON, &currentJSON, &st.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QueueState{Queue: []domain.QueueItem{}}, nil
	}
	if err != nil {
		return domain.QueueState{}, domain.Unavailable("read queue", err)
	}
	if err := json.Unmarshal(queueJSON, &st.Queue); err != nil {
		return domain.QueueState{}, domain.Unavailable("read queue", err)
	}
	if st.Queue == nil {
		st.Queue = []domain.QueueItem{}
	}
	if len(currentJSON) > 0 && string(currentJSON) != "null" {
		var cur domain.QueueItem
		if err := json.Unmarshal(currentJSON, &cur); err != nil {
			return domain.QueueState{}, domain.Unavailable("read queue", err)
		}
		st.CurrentItem = &cur
	}
	return st, nil
}

const (
	upsertQueueSQL = `
        INSERT INTO room_queues (room_id, queue, current_item, version, updated_at)
        VALUES ($1, $2, $3, 1, now())
        ON CONFLICT (room_id) DO UPDATE SET
            queue = EXCLUDED.queue,
            current_item = EXCLUDED.current_item,
            version = room_queues.version + 1,
            updated_at = now()`
	upsertQueueOnlySQL = `
        INSERT INTO room_queues (room_id, queue, current_item, version, updated_at)
        VALUES ($1, $2, NULL, 1, now())
        ON CONFLICT (room_id) DO UPDATE SET
            queue = EXCLUDED.queue,
            version = room_queues.version + 1,
            updated_at = now()`
	updateQueueSQL = `
        UPDATE room_queues
        SET queue = $2, current_item = $3, version = version + 1, updated_at = now()
        WHERE room_id = $1 AND version = $4
        RETURNING version`
	updateQueueOnlySQL = `
        UPDATE room_queues
        SET queue = $2, version = version + 1, updated_at = now()
        WHERE room_id = $1 AND version = $3
        RETURNING version`
)

func (p *Postgres) WriteQueue(ctx context.Context, w QueueWrite) (int64, error) {
	queueJSON, err := json.Marshal(nonNil(w.Queue))
	if err != nil {
		return 0, domain.Unavailable("write queue", err)
	}
	var current any
	if w.CurrentItem != nil {
		b, err := json.Marshal(w.CurrentItem)
		if err != nil {
			return 0, domain.Unavailable("write queue", err)
		}
		current = b
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, domain.Unavailable("write queue", err)
	}
	defer tx.Rollback(ctx)

	var row pgx.Row
	switch {
	case w.ExpectedVersion == nil && w.QueueOnly:
		row = tx.QueryRow(ctx, upsertQueueOnlySQL+` RETURNING version`, w.RoomID, queueJSON)
	case w.ExpectedVersion == nil:
		row = tx.QueryRow(ctx, upsertQueueSQL+` RETURNING version`, w.RoomID, queueJSON, current)
	case *w.ExpectedVersion == 0 && w.QueueOnly:
		row = tx.QueryRow(ctx, upsertQueueOnlySQL+` WHERE room_queues.version = 0 RETURNING version`, w.RoomID, queueJSON)
	case *w.ExpectedVersion == 0:
		row = tx.QueryRow(ctx, upsertQueueSQL+` WHERE room_queues.version = 0 RETURNING version`, w.RoomID, queueJSON, current)
	case w.QueueOnly:
		row = tx.QueryRow(ctx, updateQueueOnlySQL, w.RoomID, queueJSON, *w.ExpectedVersion)
	default:
		row = tx.QueryRow(ctx, updateQueueSQL, w.RoomID, queueJSON, current, *w.ExpectedVersion)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) && w.ExpectedVersion != nil {
			return 0, conflict(w)
		}
		return 0, domain.Unavailable("write queue", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET last_activity_at = now() WHERE id = $1`, w.RoomID); err != nil {
		return 0, domain.Unavailable("write queue", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, domain.Unavailable("write queue", err)
	}
	return version, nil
}

func (p *Postgres) Close() { p.db.Close() }

func nonNil(items []domain.QueueItem) []domain.QueueItem {
	if items == nil {
		return []domain.QueueItem{}
	}
	return items
}
