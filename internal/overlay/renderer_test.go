package overlay

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/crowd-chess-bot/pkg/overlaydto"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func render(t *testing.T, r *Renderer, st overlaydto.RoundState) image.Image {
	t.Helper()
	raw, err := r.RenderPNG(context.Background(), st)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func samePixel(a, b image.Image, x, y int) bool {
	r1, g1, b1, a1 := a.At(x, y).RGBA()
	r2, g2, b2, a2 := b.At(x, y).RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

// corner of the square drawn at column col, row row (0,0 is top-left).
func squareCorner(col, row int) (int, int) {
	return coordMargin + col*squareSize + 2, coordMargin + row*squareSize + 2
}

func TestRenderPNGSize(t *testing.T) {
	img := render(t, NewRenderer(0), overlaydto.RoundState{GameID: "g1", Color: "white", FEN: startFEN})
	b := img.Bounds()
	if b.Dx() != boardSize+coordMargin*2 || b.Dy() != boardSize+coordMargin*2+footerHeight {
		t.Fatalf("unexpected size %v", b)
	}

	scaled := render(t, NewRenderer(300), overlaydto.RoundState{GameID: "g1", Color: "white", FEN: startFEN})
	if scaled.Bounds().Dx() != 300 {
		t.Fatalf("expected width 300, got %d", scaled.Bounds().Dx())
	}
}

func TestRenderHighlightsLastMoveFromBotSide(t *testing.T) {
	r := NewRenderer(0)
	plainWhite := render(t, r, overlaydto.RoundState{Color: "white", FEN: startFEN})
	litWhite := render(t, r, overlaydto.RoundState{Color: "white", FEN: startFEN, LastMove: "e2e4"})

	// e4 sits at column 4, row 4 when white is at the bottom.
	x, y := squareCorner(4, 4)
	if samePixel(plainWhite, litWhite, x, y) {
		t.Fatalf("e4 should be highlighted for white")
	}

	plainBlack := render(t, r, overlaydto.RoundState{Color: "black", FEN: startFEN})
	litBlack := render(t, r, overlaydto.RoundState{Color: "black", FEN: startFEN, LastMove: "e2e4"})
	if !samePixel(plainBlack, litBlack, x, y) {
		t.Fatalf("column 4 row 4 is d5 for black and must not change")
	}
	x, y = squareCorner(3, 3)
	if samePixel(plainBlack, litBlack, x, y) {
		t.Fatalf("e4 should be highlighted at column 3 row 3 for black")
	}
}

func TestRenderRejectsEmptyFEN(t *testing.T) {
	if _, err := NewRenderer(0).RenderPNG(context.Background(), overlaydto.RoundState{Color: "white"}); err == nil {
		t.Fatalf("expected error for empty FEN")
	}
}

func TestParseLongForm(t *testing.T) {
	from, to, ok := parseLongForm("g7g8q")
	if !ok || from.String() != "g7" || to.String() != "g8" {
		t.Fatalf("unexpected squares %v %v %v", from, to, ok)
	}
	if _, _, ok := parseLongForm("Nf3"); ok {
		t.Fatalf("SAN must not parse as long form")
	}
}

func TestPieceImageCached(t *testing.T) {
	a, err := pieceImage(nchess.WhiteKnight, 32)
	if err != nil {
		t.Fatalf("pieceImage: %v", err)
	}
	b, _ := pieceImage(nchess.WhiteKnight, 32)
	if a != b {
		t.Fatalf("expected cached image")
	}
	if a.Bounds().Dx() != 32 {
		t.Fatalf("unexpected size %v", a.Bounds())
	}
}
