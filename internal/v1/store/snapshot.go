package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ludoverse/backend/internal/v1/types"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so snapshot loading
// works inside and outside transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// roomMeta is the subset of room columns read before optimistic writes.
type roomMeta struct {
	Status     types.RoomStatus
	MaxPlayers int
	Version    int
}

// seatRow mirrors a room_seats row for in-process decisions.
type seatRow struct {
	Index     int
	UserID    *string
	IsHost    bool
	Ready     string
	Connected bool
	Status    string
}

func (r seatRow) occupied() bool {
	return r.UserID != nil
}

func loadRoomMeta(ctx context.Context, q querier, roomID string) (*roomMeta, error) {
	var m roomMeta
	err := q.QueryRow(ctx,
		`SELECT status::text, max_players, version FROM rooms WHERE id = $1::uuid`,
		roomID,
	).Scan(&m.Status, &m.MaxPlayers, &m.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("querying room %s: %w", roomID, err)
	}
	return &m, nil
}

func loadSeats(ctx context.Context, q querier, roomID string) ([]seatRow, error) {
	rows, err := q.Query(ctx,
		`SELECT seat_index, user_id::text, is_host, ready::text, connected, status::text
		 FROM room_seats WHERE room_id = $1::uuid ORDER BY seat_index`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying seats for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var seats []seatRow
	for rows.Next() {
		var s seatRow
		if err := rows.Scan(&s.Index, &s.UserID, &s.IsHost, &s.Ready, &s.Connected, &s.Status); err != nil {
			return nil, fmt.Errorf("scanning seat row: %w", err)
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// GetSnapshot loads the full wire snapshot of a room, joining profiles for
// display names.
func (s *Store) GetSnapshot(ctx context.Context, roomID string) (*types.RoomSnapshot, error) {
	return loadSnapshot(ctx, s.pool, roomID)
}

func loadSnapshot(ctx context.Context, q querier, roomID string) (*types.RoomSnapshot, error) {
	var snap types.RoomSnapshot
	err := q.QueryRow(ctx,
		`SELECT id::text, code, status::text, visibility::text, ruleset_id, max_players, version
		 FROM rooms WHERE id = $1::uuid`,
		roomID,
	).Scan(&snap.RoomID, &snap.Code, &snap.Status, &snap.Visibility, &snap.RulesetID, &snap.MaxPlayers, &snap.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("querying room %s: %w", roomID, err)
	}

	rows, err := q.Query(ctx,
		`SELECT s.seat_index, s.user_id::text, p.display_name, s.ready::text, s.connected, s.is_host
		 FROM room_seats s
		 LEFT JOIN profiles p ON p.id = s.user_id
		 WHERE s.room_id = $1::uuid
		 ORDER BY s.seat_index`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying seat snapshot for room %s: %w", roomID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var seat types.SeatSnapshot
		var ready string
		if err := rows.Scan(&seat.SeatIndex, &seat.UserID, &seat.DisplayName, &ready, &seat.Connected, &seat.IsHost); err != nil {
			return nil, fmt.Errorf("scanning seat snapshot: %w", err)
		}
		seat.Ready = ready == string(types.ReadyStatusReady)
		snap.Seats = append(snap.Seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &snap, nil
}
