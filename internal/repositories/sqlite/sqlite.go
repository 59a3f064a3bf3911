// Package sqlite provides an embedded SQLite backend for groups, memberships
// and content records. It is intended for local development and single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vidfriends/groupcast/internal/models"
	"github.com/vidfriends/groupcast/internal/repositories"
)

// Store implements the group, content and history repositories on SQLite.
type Store struct {
	db      *sql.DB
	NowFunc func() time.Time
}

// Open creates (or opens) the database at path and applies the schema.
// A path of ":memory:" yields a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers, which is what keeps invite codes and
	// memberships consistent without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// PathFromURL extracts a filesystem path from sqlite:/file: style URLs.
func PathFromURL(url string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:", "file://", "file:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix)
		}
	}
	return url
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateGroup inserts the group and its initial members atomically.
func (s *Store) CreateGroup(ctx context.Context, group models.Group) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO groups (id, name, invite_code, content_count, created_at) VALUES (?, ?, ?, 0, ?)",
			group.ID, group.Name, group.InviteCode, group.CreatedAt.UTC().UnixNano(),
		)
		if err != nil {
			if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
				return repositories.ErrConflict
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
func (s *Store) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		group, err = loadGroup(ctx, tx, groupID)
		return err
	})
	return group, err
}

// JoinByInviteCode adds member to the group owning code; existing members are left untouched.
func (s *Store) JoinByInviteCode(ctx context.Context, code string, member models.Member) (models.Group, error) {
	var group models.Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var groupID string
		err := tx.QueryRowContext(ctx, "SELECT id FROM groups WHERE invite_code = ?", code).Scan(&groupID)
		if errors.Is(err, sql.ErrNoRows) {
			return repositories.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select group by invite code: %w", err)
		}

		if err := insertMember(ctx, tx, groupID, member); err != nil {
			return err
		}

		group, err = loadGroup(ctx, tx, groupID)
		return err
	})
	return group, err
}

// ListGroupsForMember returns groups containing memberID in creation order.
func (s *Store) ListGroupsForMember(ctx context.Context, memberID string) ([]models.Group, error) {
	var groups []models.Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT g.id FROM groups g
			JOIN group_members gm ON gm.group_id = g.id
			WHERE gm.member_id = ?
			ORDER BY g.created_at, g.rowid`, memberID)
		if err != nil {
			return fmt.Errorf("query groups for member: %w", err)
		}

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan group id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate groups: %w", err)
		}
		rows.Close()

		for _, id := range ids {
			group, err := loadGroup(ctx, tx, id)
			if err != nil {
				return err
			}
			groups = append(groups, group)
		}
		return nil
	})
	return groups, err
}

// RemoveMember deletes a membership. Unknown groups yield ErrNotFound.
func (s *Store) RemoveMember(ctx context.Context, groupID, memberID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := groupExists(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if !exists {
			return repositories.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ? AND member_id = ?", groupID, memberID); err != nil {
			return fmt.Errorf("delete group member: %w", err)
		}
		return nil
	})
}

// CreateContentRecord stores a content record and bumps the group's counter.
func (s *Store) CreateContentRecord(ctx context.Context, groupID, senderID, url, caption string) (string, error) {
	id := uuid.New().String()
	now := s.now()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE groups SET content_count = content_count + 1
			WHERE id = ? AND EXISTS (SELECT 1 FROM group_members WHERE group_id = ? AND member_id = ?)`,
			groupID, groupID, senderID)
		if err != nil {
			return fmt.Errorf("increment content count: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("increment content count: %w", err)
		}
		if affected == 0 {
			exists, err := groupExists(ctx, tx, groupID)
			if err != nil {
				return err
			}
			if !exists {
				return repositories.ErrNotFound
			}
			return repositories.ErrNotMember
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO content_records (id, group_id, sender_id, media_url, caption, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			id, groupID, senderID, url, caption, now.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert content record: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CountDeliveries counts content records the sender delivered to the group in [start, end).
func (s *Store) CountDeliveries(ctx context.Context, groupID, senderID string, start, end time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_records
		WHERE group_id = ? AND sender_id = ? AND created_at >= ? AND created_at < ?`,
		groupID, senderID, start.UTC().UnixNano(), end.UTC().UnixNano(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return count, nil
}

// PostersBetween lists distinct senders with content in the group in [start, end).
func (s *Store) PostersBetween(ctx context.Context, groupID string, start, end time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sender_id FROM content_records
		WHERE group_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY sender_id`,
		groupID, start.UTC().UnixNano(), end.UTC().UnixNano(),
	)
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

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func insertMember(ctx context.Context, tx *sql.Tx, groupID string, m models.Member) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, member_id, display_name, avatar_url, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (group_id, member_id) DO NOTHING`,
		groupID, m.ID, m.DisplayName, m.AvatarURL, m.JoinedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

func loadGroup(ctx context.Context, tx *sql.Tx, groupID string) (models.Group, error) {
	var (
		group   models.Group
		created int64
	)
	err := tx.QueryRowContext(ctx,
		"SELECT id, name, invite_code, content_count, created_at FROM groups WHERE id = ?", groupID,
	).Scan(&group.ID, &group.Name, &group.InviteCode, &group.ContentCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, repositories.ErrNotFound
	}
	if err != nil {
		return models.Group{}, fmt.Errorf("select group: %w", err)
	}
	group.CreatedAt = time.Unix(0, created).UTC()

	rows, err := tx.QueryContext(ctx, `
		SELECT member_id, display_name, avatar_url, joined_at FROM group_members
		WHERE group_id = ? ORDER BY joined_at, rowid`, groupID)
	if err != nil {
		return models.Group{}, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m      models.Member
			joined int64
		)
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.AvatarURL, &joined); err != nil {
			return models.Group{}, fmt.Errorf("scan group member: %w", err)
		}
		m.JoinedAt = time.Unix(0, joined).UTC()
		group.Members = append(group.Members, m)
	}
	if err := rows.Err(); err != nil {
		return models.Group{}, fmt.Errorf("iterate group members: %w", err)
	}
	return group, nil
}

func groupExists(ctx context.Context, tx *sql.Tx, groupID string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM groups WHERE id = ?", groupID).Scan(&n); err != nil {
		return false, fmt.Errorf("check group: %w", err)
	}
	return n > 0, nil
}

func isConstraint(err error, codes ...int) bool {
	var sqlErr *msqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	for _, code := range codes {
		if sqlErr.Code() == code {
			return true
		}
	}
	return false
}
