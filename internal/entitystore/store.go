// Package entitystore is a SQLite-backed reader of the business entities the
// coordinator consults: room records, enrollments, credit balances and role
// memberships. Standalone deployments use it as every access collaborator.
package entitystore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// Room is the persisted record of a room. The coordinator reads it only when
// a room has no live state yet.
type Room struct {
	ID        string
	RoomType  string
	HostID    string
	Override  *roomconfig.Override
	CreatedAt time.Time
}

type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at dsn and creates missing tables. ":memory:" is
// accepted for tests and throwaway runs.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("entity store dsn is required")
	}
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

func (s *Store) CreateRoom(ctx context.Context, room Room) error {
	if room.ID == "" || room.RoomType == "" {
		return fmt.Errorf("room id and type are required")
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}

	var overrides sql.NullString
	if room.Override != nil {
		data, err := json.Marshal(room.Override)
		if err != nil {
			return fmt.Errorf("encode overrides: %w", err)
		}
		overrides = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO rooms (id, room_type, host_id, overrides, created_at) VALUES (?, ?, ?, ?, ?)`,
		room.ID, room.RoomType, room.HostID, overrides, room.CreatedAt.UTC().UnixMilli(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("room %s: %w", room.ID, roomerr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// DeleteRoom drops the record of a cleaned up room so it cannot be cold
// loaded again. Deleting an absent record is not an error.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func (s *Store) LookupRoom(ctx context.Context, roomID string) (Room, error) {
	var (
		room      Room
		overrides sql.NullString
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, room_type, host_id, overrides, created_at FROM rooms WHERE id = ?`, roomID,
	).Scan(&room.ID, &room.RoomType, &room.HostID, &overrides, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("room %s: %w", roomID, roomerr.ErrNotFound)
	}
	if err != nil {
		return Room{}, fmt.Errorf("lookup room: %w", err)
	}

	if overrides.Valid && overrides.String != "" {
		room.Override = &roomconfig.Override{}
		if err := json.Unmarshal([]byte(overrides.String), room.Override); err != nil {
			return Room{}, fmt.Errorf("decode overrides of room %s: %w", roomID, err)
		}
	}
	room.CreatedAt = time.UnixMilli(createdAt).UTC()
	return room, nil
}

func (s *Store) Enroll(ctx context.Context, userID, resourceID string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO enrollments (user_id, resource_id, enrolled_at) VALUES (?, ?, ?)`,
		userID, resourceID, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	return nil
}

func (s *Store) IsEnrolled(ctx context.Context, userID, resourceID string) (bool, error) {
	var exist int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM enrollments WHERE user_id = ? AND resource_id = ?`, userID, resourceID,
	).Scan(&exist)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is enrolled: %w", err)
	}
	return true, nil
}

// AddCredits adjusts the balance of userID by delta and returns the new
// balance.
func (s *Store) AddCredits(ctx context.Context, userID string, delta int64) (int64, error) {
	var balance int64
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO credits (user_id, balance) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET balance = balance + excluded.balance
		 RETURNING balance`,
		userID, delta,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}

func (s *Store) HasSufficientCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	var balance int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT balance FROM credits WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return amount <= 0, nil
	}
	if err != nil {
		return false, fmt.Errorf("credit balance: %w", err)
	}
	return balance >= amount, nil
}

func (s *Store) GrantRole(ctx context.Context, userID, role string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_members (user_id, role) VALUES (?, ?)`, userID, role,
	)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

func (s *Store) HasRole(ctx context.Context, userID string, roles []string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(roles)), ", ")
	args := make([]any, 0, len(roles)+1)
	args = append(args, userID)
	for _, role := range roles {
		args = append(args, role)
	}

	var exist int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM role_members WHERE user_id = ? AND role IN (`+placeholders+`) LIMIT 1`, args...,
	).Scan(&exist)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has role: %w", err)
	}
	return true, nil
}
