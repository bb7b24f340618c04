package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gonotes/collabd/internal/collab"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client bridges one websocket connection to its room session: the read
// pump feeds inbound frames to the room, the write pump drains the
// session's frame stream back to the socket.
type client struct {
	conn   *websocket.Conn
	sess   *collab.Session
	room   *collab.Room
	logger *zap.Logger
}

func newClient(conn *websocket.Conn, sess *collab.Session, liveRoom *collab.Room, logger *zap.Logger) *client {
	return &client{
		conn:   conn,
		sess:   sess,
		room:   liveRoom,
		logger: logger.With(
			zap.String("room_id", liveRoom.ID().String()),
			zap.String("connection_id", sess.ID()),
		),
	}
}

func (cl *client) readPump() {
	defer func() {
		cl.room.Leave(cl.sess)
		_ = cl.conn.Close()
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.logger.Warn("connection dropped", zap.Error(err))
			}
			return
		}

		var frame collab.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			cl.logger.Warn("unreadable frame ignored", zap.Error(err))
			continue
		}

		switch frame.Type {
		case collab.FrameUpdate:
			if err := cl.room.SubmitUpdate(cl.sess, frame.Payload); err != nil {
				if errors.Is(err, collab.ErrRoomClosed) {
					return
				}
				cl.logger.Warn("update dropped", zap.Error(err))
			}
		case collab.FrameAwareness:
			if frame.Awareness == nil {
				continue
			}
			if err := cl.room.SubmitAwareness(cl.sess, *frame.Awareness); err != nil {
				if errors.Is(err, collab.ErrRoomClosed) {
					return
				}
			}
		default:
			cl.logger.Warn("unknown frame type ignored", zap.String("type", string(frame.Type)))
		}
	}
}

func (cl *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case frame, open := <-cl.sess.Frames():
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			encoded, err := json.Marshal(frame)
			if err != nil {
				cl.logger.Error("frame encode failed", zap.Error(err))
				continue
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
