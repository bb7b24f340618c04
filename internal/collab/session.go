package collab

const sessionFrameBuffer = 64

// Session is one authorized client connection inside a room. The transport
// layer drains Frames and feeds inbound messages to the room; the room's
// run loop is the only goroutine that delivers or closes the frame stream.
type Session struct {
	id          string
	userID      int64
	workspaceID int64

	frames chan Frame
	closed bool
}

// NewSession constructs a session for an authorized connection.
func NewSession(connectionID string, userID int64, workspaceID int64) *Session {
	return &Session{
		id:          connectionID,
		userID:      userID,
		workspaceID: workspaceID,
		frames:      make(chan Frame, sessionFrameBuffer),
	}
}

// ID returns the connection identifier.
func (s *Session) ID() string {
	return s.id
}

// UserID returns the authenticated user identifier.
func (s *Session) UserID() int64 {
	return s.userID
}

// WorkspaceID returns the workspace the session was authorized for.
func (s *Session) WorkspaceID() int64 {
	return s.workspaceID
}

// Frames returns the stream of outbound frames for this session. The
// channel closes when the session leaves its room or the room shuts down.
func (s *Session) Frames() <-chan Frame {
	return s.frames
}

// deliver enqueues a frame without blocking the room loop. A session that
// cannot keep up loses broadcasts rather than stalling the room.
func (s *Session) deliver(frame Frame) {
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
	}
}

// close releases the frame stream. Called only from the room run loop.
func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}
