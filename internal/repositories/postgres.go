package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidfriends/groupcast/internal/db"
	"github.com/vidfriends/groupcast/internal/models"
)

// queryer is satisfied by both pooled connections and transactions.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresGroupRepository provides PostgreSQL-backed persistence for groups and memberships.
type PostgresGroupRepository struct {
	pool db.Pool
}

// NewPostgresGroupRepository constructs a group repository backed by PostgreSQL.
func NewPostgresGroupRepository(pool db.Pool) *PostgresGroupRepository {
	return &PostgresGroupRepository{pool: pool}
}

// CreateGroup inserts the group and its initial members atomically. A taken
// invite code surfaces as ErrConflict.
func (r *PostgresGroupRepository) CreateGroup(ctx context.Context, group models.Group) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO groups (id, name, invite_code, content_count, created_at)
            VALUES ($1, $2, $3, 0, $4)
        `, group.ID, group.Name, group.InviteCode, group.CreatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert group: %w", err)
		}

		for _, m := range group.Members {
			if err := insertMember(ctx, tx, group.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetGroup loads a group and its members.
func (r *PostgresGroupRepository) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Group{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return loadGroup(ctx, conn, `WHERE id = $1`, groupID)
}

// JoinByInviteCode adds member to the group owning code; existing members are left untouched.
func (r *PostgresGroupRepository) JoinByInviteCode(ctx context.Context, code string, member models.Member) (models.Group, error) {
	var group models.Group
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var groupID string
		err := tx.QueryRow(ctx, `SELECT id FROM groups WHERE invite_code = $1`, code).Scan(&groupID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select group by invite code: %w", err)
		}

		if err := insertMember(ctx, tx, groupID, member); err != nil {
			return err
		}

		group, err = loadGroup(ctx, tx, `WHERE id = $1`, groupID)
		return err
	})
	if err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// ListGroupsForMember returns groups containing memberID in creation order.
func (r *PostgresGroupRepository) ListGroupsForMember(ctx context.Context, memberID string) ([]models.Group, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT g.id, g.name, g.invite_code, g.content_count, g.created_at
        FROM groups g
        JOIN group_members gm ON gm.group_id = g.id
        WHERE gm.member_id = $1
        ORDER BY g.created_at, g.id
    `, memberID)
	if err != nil {
		return nil, fmt.Errorf("query groups for member: %w", err)
	}

	groups, err := scanGroups(rows)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return groups, nil
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	members, err := loadMembers(ctx, conn, ids)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].Members = members[groups[i].ID]
	}
	return groups, nil
}

// RemoveMember deletes a membership row. Removing a non-member is a no-op;
// an unknown group yields ErrNotFound.
func (r *PostgresGroupRepository) RemoveMember(ctx context.Context, groupID, memberID string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
			return fmt.Errorf("check group: %w", err)
		}
		if !exists {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx, `
            DELETE FROM group_members
            WHERE group_id = $1 AND member_id = $2
        `, groupID, memberID); err != nil {
			return fmt.Errorf("delete group member: %w", err)
		}
		return nil
	})
}

// PostgresContentRepository records delivered content and answers delivery history queries.
type PostgresContentRepository struct {
	pool    db.Pool
	NowFunc func() time.Time
}

// NewPostgresContentRepository constructs a content repository backed by PostgreSQL.
func NewPostgresContentRepository(pool db.Pool) *PostgresContentRepository {
	return &PostgresContentRepository{pool: pool}
}

// CreateContentRecord stores a content record for the group and bumps its
// content counter in the same transaction.
func (r *PostgresContentRepository) CreateContentRecord(ctx context.Context, groupID, senderID, url, caption string) (string, error) {
	record := models.ContentRecord{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		SenderID:  senderID,
		MediaURL:  url,
		Caption:   caption,
		CreatedAt: r.now(),
	}

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            UPDATE groups
            SET content_count = content_count + 1
            WHERE id = $1
              AND EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND member_id = $2)
        `, groupID, senderID)
		if err != nil {
			return fmt.Errorf("increment content count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
				return fmt.Errorf("check group: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrNotMember
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO content_records (id, group_id, sender_id, media_url, caption, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, record.ID, record.GroupID, record.SenderID, record.MediaURL, record.Caption, record.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return ErrNotFound
			}
			return fmt.Errorf("insert content record: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// CountDeliveries counts content records the sender delivered to the group in [start, end).
func (r *PostgresContentRepository) CountDeliveries(ctx context.Context, groupID, senderID string, start, end time.Time) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int
	err = conn.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM content_records
        WHERE group_id = $1 AND sender_id = $2
          AND created_at >= $3 AND created_at < $4
    `, groupID, senderID, start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return count, nil
}

// PostersBetween lists the distinct senders with content in the group in [start, end).
func (r *PostgresContentRepository) PostersBetween(ctx context.Context, groupID string, start, end time.Time) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT DISTINCT sender_id
        FROM content_records
        WHERE group_id = $1
          AND created_at >= $2 AND created_at < $3
        ORDER BY sender_id
    `, groupID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query posters: %w", err)
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, fmt.Errorf("scan poster: %w", err)
		}
		senders = append(senders, sender)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posters: %w", err)
	}
	return senders, nil
}

func (r *PostgresContentRepository) now() time.Time {
	if r.NowFunc != nil {
		return r.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func insertMember(ctx context.Context, tx pgx.Tx, groupID string, m models.Member) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO group_members (group_id, member_id, display_name, avatar_url, joined_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (group_id, member_id) DO NOTHING
    `, groupID, m.ID, m.DisplayName, m.AvatarURL, m.JoinedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

func loadGroup(ctx context.Context, q queryer, where string, args ...any) (models.Group, error) {
	var group models.Group
	err := q.QueryRow(ctx, `
        SELECT id, name, invite_code, content_count, created_at
        FROM groups
        `+where, args...).Scan(&group.ID, &group.Name, &group.InviteCode, &group.ContentCount, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Group{}, ErrNotFound
		}
		return models.Group{}, fmt.Errorf("select group: %w", err)
	}
	group.CreatedAt = group.CreatedAt.UTC()

	members, err := loadMembers(ctx, q, []string{group.ID})
	if err != nil {
		return models.Group{}, err
	}
	group.Members = members[group.ID]
	return group, nil
}

func loadMembers(ctx context.Context, q queryer, groupIDs []string) (map[string][]models.Member, error) {
	rows, err := q.Query(ctx, `
        SELECT group_id, member_id, display_name, avatar_url, joined_at
        FROM group_members
        WHERE group_id = ANY($1::text[])
        ORDER BY joined_at, member_id
    `, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	members := make(map[string][]models.Member, len(groupIDs))
	for rows.Next() {
		var (
			groupID string
			m       models.Member
		)
		if err := rows.Scan(&groupID, &m.ID, &m.DisplayName, &m.AvatarURL, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		m.JoinedAt = m.JoinedAt.UTC()
		members[groupID] = append(members[groupID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}

func scanGroups(rows pgx.Rows) ([]models.Group, error) {
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.InviteCode, &g.ContentCount, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.CreatedAt = g.CreatedAt.UTC()
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
