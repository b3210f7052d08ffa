package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{
		-1:  DefaultLimit,
		0:   DefaultLimit,
		10:  10,
		100: 100,
		500: MaxLimit,
	}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := Cursor{
		CreatedAt: time.Date(2026, 5, 1, 12, 30, 0, 123456789, time.UTC),
		ID:        uuid.New(),
	}
	parsed, err := ParseCursor(EncodeCursor(cursor))
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if !parsed.CreatedAt.Equal(cursor.CreatedAt) || parsed.ID != cursor.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, cursor)
	}
}

func TestParseCursorEmpty(t *testing.T) {
	parsed, err := ParseCursor("   ")
	if err != nil {
		t.Fatalf("blank cursor must not error: %v", err)
	}
	if parsed != nil {
		t.Fatalf("blank cursor must yield nil, got %+v", parsed)
	}
}

func TestParseCursorGarbage(t *testing.T) {
	for _, value := range []string{"!!!", "bm90LWEtY3Vyc29y"} {
		if _, err := ParseCursor(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}
