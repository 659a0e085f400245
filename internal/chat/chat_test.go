package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem, RoleTool} {
		if !r.Valid() {
			t.Errorf("Role(%q).Valid() = false, want true", r)
		}
	}
	for _, r := range []Role{"", "function", "USER", "developer"} {
		if r.Valid() {
			t.Errorf("Role(%q).Valid() = true, want false", r)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{
		UpdatedAt: time.Date(2025, 6, 1, 12, 30, 45, 123456000, time.UTC),
		ID:        uuid.New(),
	}

	encoded := EncodeCursor(want)
	got, err := DecodeCursor(encoded)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
	if got.ID != want.ID {
		t.Errorf("ID = %s, want %s", got.ID, want.ID)
	}
}

func TestDecodeCursor_EmptyIsFirstPage(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor(\"\") error: %v", err)
	}
	if c != nil {
		t.Fatalf("DecodeCursor(\"\") = %+v, want nil", c)
	}
}

func TestDecodeCursor_Malformed(t *testing.T) {
	cases := []string{
		"not-base64!!!",
		"bm9jb2xvbg",      // "nocolon"
		"YWJjOm5vdHV1aWQ", // "abc:notuuid"
	}
	for _, in := range cases {
		if _, err := DecodeCursor(in); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) error = %v, want ErrInvalidCursor", in, err)
		}
	}
}

func TestHasToolCalls(t *testing.T) {
	m := &Message{Role: RoleAssistant}
	if m.HasToolCalls() {
		t.Error("message without calls reports HasToolCalls")
	}
	m.ToolCalls = []ToolCall{{ID: "call_1", Name: "list_tasks"}}
	if !m.HasToolCalls() {
		t.Error("message with calls reports no tool calls")
	}
}
