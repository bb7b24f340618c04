package room

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrMalformedID indicates that a room identifier does not match the
// w<workspace_id>_n<note_id> pattern.
var ErrMalformedID = errors.New("room: malformed room id")

var idPattern = regexp.MustCompile(`^w(\d+)_n(\d+)$`)

// ID is a validated room identifier composed of a workspace and a note id.
// It is the sole namespacing key shared by the transport, auth, and
// persistence layers.
type ID struct {
	workspaceID int64
	noteID      int64
}

// ParseID validates raw input against the room id pattern and returns the
// decomposed identifier.
func ParseID(rawInput string) (ID, error) {
	match := idPattern.FindStringSubmatch(rawInput)
	if match == nil {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, rawInput)
	}
	workspaceID, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: workspace id out of range in %q", ErrMalformedID, rawInput)
	}
	noteID, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: note id out of range in %q", ErrMalformedID, rawInput)
	}
	return ID{workspaceID: workspaceID, noteID: noteID}, nil
}

// WorkspaceID returns the workspace component of the identifier.
func (id ID) WorkspaceID() int64 {
	return id.workspaceID
}

// NoteID returns the note component of the identifier.
func (id ID) NoteID() int64 {
	return id.noteID
}

// String renders the identifier in its canonical wire format.
func (id ID) String() string {
	return fmt.Sprintf("w%d_n%d", id.workspaceID, id.noteID)
}
