package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"golang.org/x/net/websocket"

	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/protocol"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
)

// DefaultReadTimeout closes a room channel that stays silent this long.
// Clients ping well inside it.
const DefaultReadTimeout = 45 * time.Second

const maxFrameBytes = 8 << 10

// RoomHandler serves the showtime room channel over a websocket.  Every
// connection is one session; the session id is minted on join and
// returned in initial_locks.
type RoomHandler struct {
	Coord          *seatlock.Coordinator
	Limiter        *middleware.Limiter // charged per request_lock; nil disables
	AllowedOrigins []string            // empty allows any origin
	ReadTimeout    time.Duration
	Logger         Logger
}

// Serve handles GET /v1/showtimes/:id/ws.  JWTAuth has already run, so
// the upgrade is refused with 401 only when the principal is unusable.
func (h *RoomHandler) Serve(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showtimeID, ok := showtimeParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	srv := websocket.Server{
		Handshake: h.checkOrigin,
		Handler: func(ws *websocket.Conn) {
			conn := &roomConn{
				h:          h,
				ws:         ws,
				showtimeID: showtimeID,
				userID:     userID,
			}
			conn.serve(c.Request().Context())
		},
	}
	srv.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (h *RoomHandler) checkOrigin(_ *websocket.Config, req *http.Request) error {
	if len(h.AllowedOrigins) == 0 {
		return nil
	}
	origin := req.Header.Get("Origin")
	for _, o := range h.AllowedOrigins {
		if o == origin {
			return nil
		}
	}
	return fmt.Errorf("origin %q not allowed", origin)
}

func (h *RoomHandler) readTimeout() time.Duration {
	if h.ReadTimeout > 0 {
		return h.ReadTimeout
	}
	return DefaultReadTimeout
}

// roomConn is the state of one websocket.  Frames are written by the
// reader loop (replies) and the pump (room events) under wmu.
type roomConn struct {
	h          *RoomHandler
	ws         *websocket.Conn
	showtimeID uint64
	userID     uint64

	wmu     sync.Mutex
	session *seatlock.Session // owned by the reader loop
	pumps   sync.WaitGroup
}

func (rc *roomConn) serve(ctx context.Context) {
	rc.ws.MaxPayloadBytes = maxFrameBytes
	defer func() {
		if rc.session != nil {
			rc.h.Coord.Leave(rc.showtimeID, rc.session.ID)
		}
		_ = rc.ws.Close()
		rc.pumps.Wait()
	}()

	for {
		if err := rc.ws.SetReadDeadline(time.Now().Add(rc.h.readTimeout())); err != nil {
			return
		}
		var raw []byte
		if err := websocket.Message.Receive(rc.ws, &raw); err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			rc.send(protocol.Error("malformed"))
			continue
		}
		rc.handle(ctx, msg)
	}
}

func (rc *roomConn) handle(ctx context.Context, msg protocol.Message) {
	if msg.ShowtimeID != 0 && msg.ShowtimeID != rc.showtimeID {
		rc.send(protocol.Error("malformed"))
		return
	}
	switch msg.Type {
	case protocol.TypeJoinShowtime:
		rc.join(ctx)
	case protocol.TypePing:
		if rc.session != nil {
			_ = rc.h.Coord.Touch(rc.showtimeID, rc.session.ID)
		}
		rc.send(protocol.Message{Type: protocol.TypePong})
	case protocol.TypeRequestLock:
		rc.requestLock(ctx, msg)
	case protocol.TypeReleaseLock:
		if rc.session == nil {
			rc.send(protocol.Error("session_lost"))
			return
		}
		if _, err := rc.h.Coord.ReleaseLock(rc.showtimeID, rc.session.ID, msg.SeatLabel); err != nil {
			rc.send(protocol.Error(seatlock.Reason(err)))
		}
	case protocol.TypeLeaveShowtime:
		if rc.session != nil {
			rc.h.Coord.Leave(rc.showtimeID, rc.session.ID)
			rc.session = nil
		}
	default:
		rc.send(protocol.Error("malformed"))
	}
}

// join adds the connection to the room, or resyncs it when it is
// already a member.  initial_locks is written before the pump starts so
// that no room event precedes the snapshot it applies to.
func (rc *roomConn) join(ctx context.Context) {
	if rc.session != nil {
		snap, err := rc.h.Coord.Resync(rc.showtimeID, rc.session.ID)
		if err == nil {
			rc.send(snapshotMessage(snap))
			return
		}
		rc.session = nil
	}

	s, snap, err := rc.h.Coord.Join(ctx, rc.showtimeID, uuid.NewString(), rc.userID)
	if err != nil {
		rc.send(protocol.Error(joinReason(err)))
		return
	}
	rc.session = s
	rc.send(snapshotMessage(snap))
	rc.pumps.Add(1)
	go rc.pump(s)
}

func joinReason(err error) string {
	if errors.Is(err, seatlock.ErrMalformed) {
		return "malformed"
	}
	return "showtime_unavailable"
}

func (rc *roomConn) requestLock(ctx context.Context, msg protocol.Message) {
	if rc.session == nil {
		rc.send(protocol.LockFailed(msg.SeatLabel, "session_lost"))
		return
	}
	if msg.UserID != 0 && msg.UserID != rc.userID {
		rc.send(protocol.LockFailed(msg.SeatLabel, "malformed"))
		return
	}
	if rc.h.Limiter != nil {
		d, err := rc.h.Limiter.Allow(ctx, "user:"+strconv.FormatUint(rc.userID, 10))
		if err != nil && rc.h.Logger != nil {
			rc.h.Logger.Warnj(log.JSON{"event": "rate_limit_error", "error": err.Error()})
		}
		if !d.Allowed {
			rc.send(protocol.LockFailed(msg.SeatLabel, "rate_limited"))
			return
		}
	}
	// lock_granted arrives through the session's event stream
	if _, err := rc.h.Coord.RequestLock(rc.showtimeID, rc.session.ID, msg.SeatLabel); err != nil {
		rc.send(protocol.LockFailed(msg.SeatLabel, seatlock.Reason(err)))
	}
}

// pump forwards room events to the socket until the session ends.  An
// evicted session is told so and the socket is closed, which ends the
// reader loop.
func (rc *roomConn) pump(s *seatlock.Session) {
	defer rc.pumps.Done()
	for ev := range s.Events() {
		if err := rc.send(eventMessage(ev)); err != nil {
			return
		}
	}
	if err := s.Err(); err != nil {
		_ = rc.send(protocol.Error(seatlock.Reason(err)))
		_ = rc.ws.Close()
		if rc.h.Logger != nil {
			rc.h.Logger.Infoj(log.JSON{
				"event":       "room_channel_closed",
				"showtime_id": rc.showtimeID,
				"session_id":  s.ID,
				"reason":      seatlock.Reason(err),
			})
		}
	}
}

func (rc *roomConn) send(msg protocol.Message) error {
	rc.wmu.Lock()
	defer rc.wmu.Unlock()
	return websocket.JSON.Send(rc.ws, msg)
}

func snapshotMessage(snap seatlock.Snapshot) protocol.Message {
	return protocol.Message{
		Type:           protocol.TypeInitialLocks,
		ShowtimeID:     snap.ShowtimeID,
		SessionID:      snap.SessionID,
		SeatLabels:     snap.LockedSeats,
		HeldSeats:      snap.HeldSeats,
		BookedSeats:    snap.BookedSeats,
		Seats:          snap.Seats,
		LockTTLSeconds: int(snap.LockTTL.Seconds()),
	}
}

func eventMessage(ev seatlock.Event) protocol.Message {
	msg := protocol.Message{Type: string(ev.Kind), ShowtimeID: ev.ShowtimeID, SeatLabel: ev.SeatLabel}
	if ev.Kind == seatlock.EventLockGranted {
		exp := ev.ExpiresAt
		msg.ExpiresAt = &exp
	}
	return msg
}
