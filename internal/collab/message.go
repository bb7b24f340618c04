package collab

// FrameType enumerates the message kinds exchanged with clients.
type FrameType string

const (
	// FrameSync carries the full document snapshot to a joining client.
	FrameSync FrameType = "sync"
	// FrameUpdate carries one opaque document update.
	FrameUpdate FrameType = "update"
	// FrameAwareness carries one client's latest presence state.
	FrameAwareness FrameType = "awareness"
	// FrameAwarenessState carries the whole presence table to a joining client.
	FrameAwarenessState FrameType = "awareness-state"
	// FrameLeave tells peers that a connection is gone so they can clear
	// its cursor.
	FrameLeave FrameType = "leave"
)

// CursorRange is a client's selection inside the document.
type CursorRange struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// AwarenessState is ephemeral per-connection presence metadata. It is
// relayed to co-present clients and never persisted.
type AwarenessState struct {
	Name   string       `json:"name"`
	Color  string       `json:"color"`
	Cursor *CursorRange `json:"cursor,omitempty"`
}

// Frame is one websocket message in either direction. Payload holds opaque
// update or snapshot bytes and travels base64-encoded on the wire.
type Frame struct {
	Type         FrameType                 `json:"type"`
	RoomID       string                    `json:"room_id,omitempty"`
	ConnectionID string                    `json:"connection_id,omitempty"`
	Payload      []byte                    `json:"payload,omitempty"`
	Awareness    *AwarenessState           `json:"awareness,omitempty"`
	Peers        map[string]AwarenessState `json:"peers,omitempty"`
}
