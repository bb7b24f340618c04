package room

import (
	"errors"
	"testing"
)

func TestParseIDRecoversComponents(t *testing.T) {
	cases := []struct {
		raw         string
		workspaceID int64
		noteID      int64
	}{
		{raw: "w1_n5", workspaceID: 1, noteID: 5},
		{raw: "w0_n0", workspaceID: 0, noteID: 0},
		{raw: "w42_n1337", workspaceID: 42, noteID: 1337},
		{raw: "w9223372036854775807_n1", workspaceID: 9223372036854775807, noteID: 1},
	}
	for _, testCase := range cases {
		id, err := ParseID(testCase.raw)
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", testCase.raw, err)
		}
		if id.WorkspaceID() != testCase.workspaceID {
			t.Fatalf("expected workspace id %d for %q, got %d", testCase.workspaceID, testCase.raw, id.WorkspaceID())
		}
		if id.NoteID() != testCase.noteID {
			t.Fatalf("expected note id %d for %q, got %d", testCase.noteID, testCase.raw, id.NoteID())
		}
		if id.String() != testCase.raw {
			t.Fatalf("expected round trip %q, got %q", testCase.raw, id.String())
		}
	}
}

func TestParseIDRejectsMalformedInput(t *testing.T) {
	malformed := []string{
		"",
		"w_n",
		"w1n5",
		"w1_n",
		"w_n5",
		"w-1_n5",
		"w1_n5x",
		"xw1_n5",
		"W1_N5",
		"w1_n5_extra",
		"w 1_n5",
		"room",
	}
	for _, raw := range malformed {
		if _, err := ParseID(raw); !errors.Is(err, ErrMalformedID) {
			t.Fatalf("expected %q to be rejected with ErrMalformedID, got %v", raw, err)
		}
	}
}

func TestParseIDRejectsOverflowingComponents(t *testing.T) {
	if _, err := ParseID("w99999999999999999999_n1"); !errors.Is(err, ErrMalformedID) {
		t.Fatalf("expected overflowing workspace id to be rejected, got %v", err)
	}
	if _, err := ParseID("w1_n99999999999999999999"); !errors.Is(err, ErrMalformedID) {
		t.Fatalf("expected overflowing note id to be rejected, got %v", err)
	}
}
