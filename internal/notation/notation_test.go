package notation

import (
	"errors"
	"testing"

	"github.com/park285/crowd-chess-bot/internal/domain"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestIsWellFormed(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"e2e4", true},
		{"E2E4", true},
		{"e7e8q", true},
		{"Nc3", true},
		{"exd5", true},
		{"Nbd7", true},
		{"e8=Q+", true},
		{"Qh4#", true},
		{"Nf3!?", true},
		{"0-0", true},
		{"0-0-0", true},
		{"o-o", true},
		{"O-O-O", true},
		{"", false},
		{"hello", false},
		{"lol", false},
		{"i9i9", false},
		{"Nz3", false},
		{"!resign", false},
	}
	for _, tc := range cases {
		if got := IsWellFormed(tc.in); got != tc.want {
			t.Fatalf("IsWellFormed(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestToLongForm_ShortAndLongShareKey(t *testing.T) {
	short, err := ToLongForm("Nc3", startFEN, domain.White)
	if err != nil {
		t.Fatalf("Nc3: %v", err)
	}
	long, err := ToLongForm("b1c3", startFEN, domain.White)
	if err != nil {
		t.Fatalf("b1c3: %v", err)
	}
	if short != long || short != "b1c3" {
		t.Fatalf("expected b1c3 for both, got %q and %q", short, long)
	}
}

func TestToLongForm_Castling(t *testing.T) {
	cases := []struct {
		in    string
		color domain.Color
		want  string
	}{
		{"o-o", domain.White, "e1g1"},
		{"o-o", domain.Black, "e8g8"},
		{"0-0-0", domain.White, "e1c1"},
		{"O-O-O", domain.Black, "e8c8"},
	}
	for _, tc := range cases {
		// snapshot deliberately absent
		got, err := ToLongForm(tc.in, "", tc.color)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.in, tc.color, err)
		}
		if got != tc.want {
			t.Fatalf("%s/%s: got %q want %q", tc.in, tc.color, got, tc.want)
		}
	}
	if _, err := ToLongForm("o-o", "", ""); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("castling without color should fail, got %v", err)
	}
}

func TestToLongForm_UsesForcedSideToMove(t *testing.T) {
	// Board after 1.e4 with the active-color field claiming white; black votes still resolve.
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 1"
	got, err := ToLongForm("Nc6", fen, domain.Black)
	if err != nil {
		t.Fatalf("Nc6: %v", err)
	}
	if got != "b8c6" {
		t.Fatalf("got %q want b8c6", got)
	}
}

func TestToLongForm_BoardOnlyFEN(t *testing.T) {
	got, err := ToLongForm("e4", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR", domain.White)
	if err != nil {
		t.Fatalf("e4: %v", err)
	}
	if got != "e2e4" {
		t.Fatalf("got %q want e2e4", got)
	}
}

func TestToLongForm_Rejects(t *testing.T) {
	if _, err := ToLongForm("Nc4", startFEN, domain.White); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("illegal SAN should fail, got %v", err)
	}
	if _, err := ToLongForm("Nc3", "", domain.White); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("missing snapshot should fail, got %v", err)
	}
	if _, err := ToLongForm("banana", startFEN, domain.White); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("garbage should fail, got %v", err)
	}
}

func TestToLongForm_LongFormUnchanged(t *testing.T) {
	// long form is not checked against the position
	got, err := ToLongForm("A7A5", startFEN, domain.White)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if got != "a7a5" {
		t.Fatalf("got %q", got)
	}
}

func TestBoard(t *testing.T) {
	b, err := Board("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR", "")
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	if len(b.SquareMap()) != 32 {
		t.Fatalf("expected 32 pieces, got %d", len(b.SquareMap()))
	}
	if _, err := Board("", domain.White); err == nil {
		t.Fatalf("empty fen should fail")
	}
}
