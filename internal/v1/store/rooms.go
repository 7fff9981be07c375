package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/ludoverse/backend/internal/v1/types"
)

// CreateParams carries the validated inputs of a room creation.
type CreateParams struct {
	MaxPlayers    int
	Visibility    types.RoomVisibility
	RulesetID     string
	RulesetConfig json.RawMessage
}

// CreateResult is the payload of find_or_create, persisted verbatim into the
// idempotency table so replays return the identical response.
type CreateResult struct {
	RoomID    string `json:"room_id"`
	Code      string `json:"code"`
	SeatIndex int    `json:"seat_index"`
	IsHost    bool   `json:"is_host"`
	Cached    bool   `json:"cached"`
}

// FindOrCreate creates a room for the user, or returns the previously stored
// response when the request id was already seen, or the user's existing open
// room. The idempotency record commits in the same transaction as the room.
func (s *Store) FindOrCreate(ctx context.Context, userID, requestID string, p CreateParams) (*CreateResult, error) {
	var result *CreateResult

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO ws_idempotency (request_id, user_id) VALUES ($1::uuid, $2::uuid)
			 ON CONFLICT (request_id) DO NOTHING`,
			requestID, userID,
		)
		if err != nil {
			return fmt.Errorf("recording idempotency key: %w", err)
		}

		if tag.RowsAffected() == 0 {
			// Replay: return the stored response or report the race.
			var status string
			var response []byte
			err := tx.QueryRow(ctx,
				`SELECT status::text, response FROM ws_idempotency WHERE request_id = $1::uuid`,
				requestID,
			).Scan(&status, &response)
			if err != nil {
				return fmt.Errorf("reading idempotency record: %w", err)
			}
			if status != "completed" || response == nil {
				return ErrRequestInProgress
			}
			var cached CreateResult
			if err := json.Unmarshal(response, &cached); err != nil {
				return fmt.Errorf("decoding cached response: %w", err)
			}
			cached.Cached = true
			result = &cached
			return nil
		}

		// The user may already own an open room; return it instead of
		// stacking up abandoned rooms.
		var roomID, code string
		var seatIndex int
		err = tx.QueryRow(ctx,
			`SELECT r.id::text, r.code, s.seat_index
			 FROM rooms r
			 JOIN room_seats s ON s.room_id = r.id AND s.user_id = r.owner_user_id
			 WHERE r.owner_user_id = $1::uuid AND r.status = 'open'
			 LIMIT 1`,
			userID,
		).Scan(&roomID, &code, &seatIndex)
		switch {
		case err == nil:
			result = &CreateResult{RoomID: roomID, Code: code, SeatIndex: seatIndex, IsHost: true}
		case errors.Is(err, pgx.ErrNoRows):
			result, err = createRoom(ctx, tx, userID, p)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("querying existing open room: %w", err)
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding idempotency response: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE ws_idempotency SET status = 'completed', response = $2 WHERE request_id = $1::uuid`,
			requestID, payload,
		)
		if err != nil {
			return fmt.Errorf("completing idempotency record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// createRoom allocates a room with a unique code and its full seat set.
// Seat 0 is the creator's host seat; the rest start empty.
func createRoom(ctx context.Context, tx pgx.Tx, userID string, p CreateParams) (*CreateResult, error) {
	config := p.RulesetConfig
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	var roomID, code string
	for attempt := 0; attempt < codeAttempts; attempt++ {
		candidate := generateCode()

		// Savepoint per attempt: a unique violation must not abort the
		// enclosing transaction.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("beginning savepoint: %w", err)
		}
		err = sp.QueryRow(ctx,
			`INSERT INTO rooms (code, owner_user_id, visibility, max_players, ruleset_id, ruleset_config)
			 VALUES ($1, $2::uuid, $3, $4, $5, $6)
			 RETURNING id::text`,
			candidate, userID, string(p.Visibility), p.MaxPlayers, p.RulesetID, config,
		).Scan(&roomID)
		if err != nil {
			_ = sp.Rollback(ctx)
			if isUniqueViolation(err, "rooms_code_live_idx") {
				continue
			}
			return nil, fmt.Errorf("inserting room: %w", err)
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing savepoint: %w", err)
		}
		code = candidate
		break
	}
	if code == "" {
		return nil, ErrCodeGenerationFailed
	}

	for i := 0; i < p.MaxPlayers; i++ {
		var err error
		if i == 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO room_seats (room_id, seat_index, user_id, is_host, status, joined_at)
				 VALUES ($1::uuid, 0, $2::uuid, true, 'occupied', now())`,
				roomID, userID,
			)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO room_seats (room_id, seat_index) VALUES ($1::uuid, $2)`,
				roomID, i,
			)
		}
		if err != nil {
			return nil, fmt.Errorf("inserting seat %d: %w", i, err)
		}
	}

	return &CreateResult{RoomID: roomID, Code: code, SeatIndex: 0, IsHost: true}, nil
}

// ResolveByCode maps an upper-cased join code to a live room id.
func (s *Store) ResolveByCode(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := types.ValidateRoomCode(code); err != nil {
		return "", ErrRoomNotFound
	}

	var roomID string
	err := s.pool.QueryRow(ctx,
		`SELECT id::text FROM rooms WHERE code = $1 AND status <> 'closed'`,
		code,
	).Scan(&roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRoomNotFound
		}
		return "", fmt.Errorf("resolving code %s: %w", code, err)
	}
	return roomID, nil
}

// JoinSeat seats the user on the lowest-indexed empty seat. Rejoin is
// idempotent. Writes are guarded by the room version (optimistic locking)
// and retried up to lockRetries times.
func (s *Store) JoinSeat(ctx context.Context, roomID, userID string) (int, *types.RoomSnapshot, error) {
	for attempt := 0; attempt < lockRetries; attempt++ {
		meta, err := loadRoomMeta(ctx, s.pool, roomID)
		if err != nil {
			return 0, nil, err
		}
		if meta.Status == types.RoomStatusClosed {
			return 0, nil, ErrRoomClosed
		}

		seats, err := loadSeats(ctx, s.pool, roomID)
		if err != nil {
			return 0, nil, err
		}

		// Idempotent rejoin: already seated users get their seat back.
		for _, seat := range seats {
			if seat.UserID != nil && *seat.UserID == userID {
				snap, err := s.GetSnapshot(ctx, roomID)
				return seat.Index, snap, err
			}
		}

		if meta.Status == types.RoomStatusInGame {
			return 0, nil, ErrRoomInGameNotMember
		}

		target := -1
		for _, seat := range seats {
			if !seat.occupied() {
				target = seat.Index
				break
			}
		}
		if target == -1 {
			return 0, nil, ErrRoomFull
		}

		err = s.withTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE room_seats
				 SET user_id = $3::uuid, status = 'occupied', ready = 'not_ready',
				     connected = false, joined_at = now(), left_at = NULL
				 WHERE room_id = $1::uuid AND seat_index = $2 AND user_id IS NULL`,
				roomID, target, userID,
			)
			if err != nil {
				return fmt.Errorf("claiming seat %d: %w", target, err)
			}
			if tag.RowsAffected() == 0 {
				return ErrVersionConflict
			}
			return bumpVersion(ctx, tx, roomID, meta.Version)
		})
		if errors.Is(err, ErrVersionConflict) || isUniqueViolation(err, "room_seats_user_idx") {
			continue
		}
		if err != nil {
			return 0, nil, err
		}

		snap, err := s.GetSnapshot(ctx, roomID)
		return target, snap, err
	}
	return 0, nil, ErrVersionConflict
}

// ToggleReady flips the user's ready flag and derives the room status:
// every occupied seat ready with at least two players promotes the room to
// ready_to_start; any other lobby configuration restores open.
func (s *Store) ToggleReady(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
	for attempt := 0; attempt < lockRetries; attempt++ {
		meta, err := loadRoomMeta(ctx, s.pool, roomID)
		if err != nil {
			return nil, err
		}
		if meta.Status == types.RoomStatusClosed {
			return nil, ErrRoomClosed
		}

		seats, err := loadSeats(ctx, s.pool, roomID)
		if err != nil {
			return nil, err
		}

		var mine *seatRow
		for i := range seats {
			if seats[i].UserID != nil && *seats[i].UserID == userID {
				mine = &seats[i]
				break
			}
		}
		if mine == nil {
			return nil, ErrNotInRoom
		}

		newReady := types.ReadyStatusReady
		if mine.Ready == string(types.ReadyStatusReady) {
			newReady = types.ReadyStatusNotReady
		}

		newStatus := deriveLobbyStatus(meta.Status, seats, mine.Index, newReady)

		err = s.withTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`UPDATE room_seats SET ready = $3 WHERE room_id = $1::uuid AND seat_index = $2`,
				roomID, mine.Index, string(newReady),
			)
			if err != nil {
				return fmt.Errorf("updating ready flag: %w", err)
			}
			return bumpVersionWithStatus(ctx, tx, roomID, meta.Version, newStatus)
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return s.GetSnapshot(ctx, roomID)
	}
	return nil, ErrVersionConflict
}

// deriveLobbyStatus recomputes the lobby status assuming the given seat's
// ready flag becomes newReady. In-game and closed rooms are left untouched.
func deriveLobbyStatus(current types.RoomStatus, seats []seatRow, changedSeat int, newReady types.ReadyStatus) types.RoomStatus {
	if current != types.RoomStatusOpen && current != types.RoomStatusReadyToStart {
		return current
	}

	occupied := 0
	allReady := true
	for _, seat := range seats {
		if !seat.occupied() {
			continue
		}
		occupied++
		ready := seat.Ready == string(types.ReadyStatusReady)
		if seat.Index == changedSeat {
			ready = newReady == types.ReadyStatusReady
		}
		if !ready {
			allReady = false
		}
	}
	if allReady && occupied >= 2 {
		return types.RoomStatusReadyToStart
	}
	return types.RoomStatusOpen
}

// LeaveSeat vacates the user's seat. A host leaving a lobby closes the room;
// a host leaving mid-game passes host to the lowest occupied seat.
func (s *Store) LeaveSeat(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, bool, error) {
	for attempt := 0; attempt < lockRetries; attempt++ {
		meta, err := loadRoomMeta(ctx, s.pool, roomID)
		if err != nil {
			return nil, false, err
		}
		if meta.Status == types.RoomStatusClosed {
			return nil, false, ErrRoomClosed
		}

		seats, err := loadSeats(ctx, s.pool, roomID)
		if err != nil {
			return nil, false, err
		}

		var mine *seatRow
		for i := range seats {
			if seats[i].UserID != nil && *seats[i].UserID == userID {
				mine = &seats[i]
				break
			}
		}
		if mine == nil {
			return nil, false, ErrNotInRoom
		}

		inLobby := meta.Status == types.RoomStatusOpen || meta.Status == types.RoomStatusReadyToStart
		closing := mine.IsHost && inLobby

		err = s.withTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`UPDATE room_seats
				 SET user_id = NULL, is_host = false, ready = 'not_ready',
				     connected = false, status = 'left', left_at = now()
				 WHERE room_id = $1::uuid AND seat_index = $2`,
				roomID, mine.Index,
			)
			if err != nil {
				return fmt.Errorf("vacating seat: %w", err)
			}

			if closing {
				return closeRoomTx(ctx, tx, roomID, meta.Version)
			}

			if mine.IsHost {
				// Deterministic host reassignment: lowest occupied seat.
				_, err = tx.Exec(ctx,
					`UPDATE room_seats SET is_host = true
					 WHERE room_id = $1::uuid AND seat_index = (
					     SELECT min(seat_index) FROM room_seats
					     WHERE room_id = $1::uuid AND user_id IS NOT NULL
					 )`,
					roomID,
				)
				if err != nil {
					return fmt.Errorf("reassigning host: %w", err)
				}
			}

			newStatus := deriveLobbyStatus(meta.Status, seats, mine.Index, types.ReadyStatusNotReady)
			if !inLobby {
				newStatus = meta.Status
			}
			return bumpVersionWithStatus(ctx, tx, roomID, meta.Version, newStatus)
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}

		snap, err := s.GetSnapshot(ctx, roomID)
		return snap, closing, err
	}
	return nil, false, ErrVersionConflict
}

// StartGame transitions a ready_to_start room to in_game. Host only.
func (s *Store) StartGame(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
	for attempt := 0; attempt < lockRetries; attempt++ {
		meta, err := loadRoomMeta(ctx, s.pool, roomID)
		if err != nil {
			return nil, err
		}
		if meta.Status == types.RoomStatusClosed {
			return nil, ErrRoomClosed
		}

		seats, err := loadSeats(ctx, s.pool, roomID)
		if err != nil {
			return nil, err
		}

		var mine *seatRow
		for i := range seats {
			if seats[i].UserID != nil && *seats[i].UserID == userID {
				mine = &seats[i]
				break
			}
		}
		if mine == nil {
			return nil, ErrNotInRoom
		}
		if !mine.IsHost {
			return nil, ErrNotHost
		}
		if meta.Status != types.RoomStatusReadyToStart {
			return nil, ErrRoomNotReady
		}

		err = s.withTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE rooms SET status = 'in_game', started_at = now(), version = version + 1
				 WHERE id = $1::uuid AND version = $2`,
				roomID, meta.Version,
			)
			if err != nil {
				return fmt.Errorf("starting game: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrVersionConflict
			}
			return nil
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return s.GetSnapshot(ctx, roomID)
	}
	return nil, ErrVersionConflict
}

// CloseRoom closes a room unconditionally (game over, host left, admin).
func (s *Store) CloseRoom(ctx context.Context, roomID string) (*types.RoomSnapshot, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE rooms SET status = 'closed', closed_at = now(), version = version + 1
		 WHERE id = $1::uuid AND status <> 'closed'`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("closing room %s: %w", roomID, err)
	}
	return s.GetSnapshot(ctx, roomID)
}

// SetSeatConnected updates the connected flag for the user's seat. A
// disconnect also resets ready, which can demote a ready_to_start lobby.
func (s *Store) SetSeatConnected(ctx context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
	for attempt := 0; attempt < lockRetries; attempt++ {
		meta, err := loadRoomMeta(ctx, s.pool, roomID)
		if err != nil {
			return nil, err
		}

		seats, err := loadSeats(ctx, s.pool, roomID)
		if err != nil {
			return nil, err
		}

		var mine *seatRow
		for i := range seats {
			if seats[i].UserID != nil && *seats[i].UserID == userID {
				mine = &seats[i]
				break
			}
		}
		if mine == nil {
			return nil, ErrNotInRoom
		}

		newReady := types.ReadyStatus(mine.Ready)
		if !connected {
			newReady = types.ReadyStatusNotReady
		}
		newStatus := deriveLobbyStatus(meta.Status, seats, mine.Index, newReady)

		err = s.withTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`UPDATE room_seats SET connected = $3, ready = $4
				 WHERE room_id = $1::uuid AND seat_index = $2`,
				roomID, mine.Index, connected, string(newReady),
			)
			if err != nil {
				return fmt.Errorf("updating seat connectivity: %w", err)
			}
			return bumpVersionWithStatus(ctx, tx, roomID, meta.Version, newStatus)
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return s.GetSnapshot(ctx, roomID)
	}
	return nil, ErrVersionConflict
}

// RulesetConfig returns the stored ruleset_config document for a room, which
// may be nil when the creator accepted the defaults.
func (s *Store) RulesetConfig(ctx context.Context, roomID string) (json.RawMessage, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT ruleset_config FROM rooms WHERE id = $1::uuid`,
		roomID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading ruleset config: %w", err)
	}
	return raw, nil
}

// UpsertProfile records the display name carried by the auth token.
func (s *Store) UpsertProfile(ctx context.Context, userID, displayName string) error {
	if displayName == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, display_name) VALUES ($1::uuid, $2)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		userID, displayName,
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

func bumpVersion(ctx context.Context, tx pgx.Tx, roomID string, version int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE rooms SET version = version + 1 WHERE id = $1::uuid AND version = $2`,
		roomID, version,
	)
	if err != nil {
		return fmt.Errorf("bumping room version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func bumpVersionWithStatus(ctx context.Context, tx pgx.Tx, roomID string, version int, status types.RoomStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE rooms SET status = $3, version = version + 1 WHERE id = $1::uuid AND version = $2`,
		roomID, version, string(status),
	)
	if err != nil {
		return fmt.Errorf("bumping room version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func closeRoomTx(ctx context.Context, tx pgx.Tx, roomID string, version int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE rooms SET status = 'closed', closed_at = now(), version = version + 1
		 WHERE id = $1::uuid AND version = $2`,
		roomID, version,
	)
	if err != nil {
		return fmt.Errorf("closing room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}
