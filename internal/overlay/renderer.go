package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/crowd-chess-bot/internal/crowd"
	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/notation"
	"github.com/park285/crowd-chess-bot/pkg/overlaydto"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize   = 64
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	coordMargin  = 20
	footerHeight = 36
	footerTopN   = 3
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	lastMoveFill    = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	candidateFill   = color.NRGBA{R: 148, G: 207, B: 255, A: 150}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	textColor       = color.RGBA{236, 239, 255, 255}
	coordColor      = color.RGBA{204, 210, 236, 255}
)

// Renderer draws the live board for the stream scene: the position from the bot's side,
// the last move, the move the crowd would play now and a footer with the top candidates.
type Renderer struct {
	// Width is the output width in pixels; 0 keeps the natural size.
	Width int
}

func NewRenderer(width int) *Renderer { return &Renderer{Width: width} }

func (r *Renderer) RenderPNG(ctx context.Context, st overlaydto.RoundState) ([]byte, error) {
	side := domain.ParseColor(st.Color)
	board, err := notation.Board(st.FEN, side)
	if err != nil {
		return nil, fmt.Errorf("render board: %w", err)
	}
	flip := side == domain.Black

	width := boardSize + coordMargin*2
	height := boardSize + coordMargin*2 + footerHeight
	origin := image.Pt(coordMargin, coordMargin)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawSquares(img, origin, flip)
	if from, to, ok := parseLongForm(st.LastMove); ok {
		overlaySquare(img, from, origin, flip, lastMoveFill)
		overlaySquare(img, to, origin, flip, lastMoveFill)
	}
	if next, ok := st.Next(crowd.ResignKey); ok {
		if from, to, ok := parseLongForm(next.Move); ok {
			overlaySquare(img, from, origin, flip, candidateFill)
			overlaySquare(img, to, origin, flip, candidateFill)
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := drawPieces(img, board, origin, flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, flip)
	drawFooter(img, st, image.Rect(0, height-footerHeight, width, height))

	var out image.Image = img
	if r != nil && r.Width > 0 && r.Width != width {
		h := height * r.Width / width
		scaled := image.NewRGBA(image.Rect(0, 0, r.Width, h))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// squareRect maps sq to its pixel rectangle; flipped boards put rank 1 on top.
func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col, row := int(sq.File()), 7-int(sq.Rank())
	if flip {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquares(dst *image.RGBA, origin image.Point, flip bool) {
	for f := 0; f < boardSquares; f++ {
		for rk := 0; rk < boardSquares; rk++ {
			sq := nchess.NewSquare(nchess.File(f), nchess.Rank(rk))
			clr := lightSquare
			if (f+rk)%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func overlaySquare(dst *image.RGBA, sq nchess.Square, origin image.Point, flip bool, clr color.Color) {
	imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawPieces(dst *image.RGBA, board *nchess.Board, origin image.Point, flip bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		glyph, err := pieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, origin, flip), glyph, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawCoordinates(dst *image.RGBA, origin image.Point, flip bool) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(coordColor), Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < boardSquares; i++ {
		file, rank := i, 7-i
		if flip {
			file, rank = 7-i, i
		}
		fileLabel := string(rune('a' + file))
		rankLabel := strconv.Itoa(rank + 1)

		cx := origin.X + i*squareSize + squareSize/2
		drawCentered(d, fileLabel, cx, origin.Y+boardSize+ascent+3)

		cy := origin.Y + i*squareSize + squareSize/2
		drawCentered(d, rankLabel, origin.X/2, cy+ascent/2)
	}
}

func drawFooter(dst *image.RGBA, st overlaydto.RoundState, rect image.Rectangle) {
	text := "Type a move in chat to vote"
	if len(st.Votes) > 0 {
		parts := make([]string, 0, footerTopN)
		for i, v := range st.Votes {
			if i == footerTopN {
				break
			}
			parts = append(parts, fmt.Sprintf("%s (%d)", v.Move, v.Votes))
		}
		text = "Votes: " + strings.Join(parts, "  ")
	} else if !st.IsMyTurn && st.GameID != "" {
		text = "Waiting for opponent"
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(textColor), Face: face}
	baseline := rect.Min.Y + (rect.Dy()+face.Metrics().Ascent.Ceil())/2
	drawCentered(d, text, rect.Min.X+rect.Dx()/2, baseline)
}

func drawCentered(d *font.Drawer, text string, centerX, baseline int) {
	w := d.MeasureString(text).Round()
	d.Dot = fixed.P(centerX-w/2, baseline)
	d.DrawString(text)
}

// parseLongForm reads "e2e4"-style squares. Promotion suffixes are ignored.
func parseLongForm(move string) (nchess.Square, nchess.Square, bool) {
	m := strings.ToLower(strings.TrimSpace(move))
	if !notation.IsLongForm(m) {
		return 0, 0, false
	}
	sq := func(s string) nchess.Square {
		return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1'))
	}
	return sq(m[0:2]), sq(m[2:4]), true
}
