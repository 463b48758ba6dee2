package notation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/crowd-chess-bot/internal/domain"
)

var ErrInvalidMove = errors.New("invalid move")

var (
	longFormPattern  = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
	shortFormPattern = regexp.MustCompile(`^([NBKRQ])?([a-h])?([1-8])?[\-x]?([a-h][1-8])(=?[nbrqkNBRQK])?[\+#]?$`)
	bareSANPromotion = regexp.MustCompile(`^(.*[a-h][18])([nbrqNBRQ])$`)
)

type castleSide int

const (
	castleNone castleSide = iota
	castleKing
	castleQueen
)

// IsLongForm reports whether move is an origin/destination square pair, e.g. "e2e4" or "e7e8q".
func IsLongForm(move string) bool {
	return longFormPattern.MatchString(strings.ToLower(strings.TrimSpace(move)))
}

// IsWellFormed accepts long-form moves, short algebraic moves and castling aliases.
// It does not look at any position.
func IsWellFormed(move string) bool {
	m := strings.TrimSpace(move)
	if m == "" {
		return false
	}
	if IsLongForm(m) || castling(m) != castleNone {
		return true
	}
	return shortFormPattern.MatchString(stripAnnotations(m))
}

// ToLongForm converts move to long form. Castling aliases map to fixed king squares for
// toMove; short algebraic moves are resolved against fen with toMove as the side to move.
func ToLongForm(move, fen string, toMove domain.Color) (string, error) {
	m := strings.TrimSpace(move)
	if !IsWellFormed(m) {
		return "", fmt.Errorf("%w: %q is not a move", ErrInvalidMove, m)
	}
	if IsLongForm(m) {
		return strings.ToLower(m), nil
	}
	if side := castling(m); side != castleNone {
		return castleSquares(side, toMove)
	}
	if strings.TrimSpace(fen) == "" || !toMove.Valid() {
		return "", fmt.Errorf("%w: board unavailable for %q", ErrInvalidMove, m)
	}

	opt, err := nchess.FEN(withSideToMove(fen, toMove))
	if err != nil {
		return "", fmt.Errorf("%w: bad position: %v", ErrInvalidMove, err)
	}
	game := nchess.NewGame(opt)
	pos := game.Position()
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, normalizeSAN(m))
	if err != nil || mv == nil {
		return "", fmt.Errorf("%w: %q is illegal in this position", ErrInvalidMove, m)
	}
	return nchess.UCINotation{}.Encode(pos, mv), nil
}

func castling(m string) castleSide {
	switch strings.ToLower(stripAnnotations(m)) {
	case "0-0", "o-o":
		return castleKing
	case "0-0-0", "o-o-o":
		return castleQueen
	default:
		return castleNone
	}
}

func castleSquares(side castleSide, c domain.Color) (string, error) {
	switch {
	case side == castleKing && c == domain.White:
		return "e1g1", nil
	case side == castleKing && c == domain.Black:
		return "e8g8", nil
	case side == castleQueen && c == domain.White:
		return "e1c1", nil
	case side == castleQueen && c == domain.Black:
		return "e8c8", nil
	}
	return "", fmt.Errorf("%w: castling needs a side to move", ErrInvalidMove)
}

// stripAnnotations drops trailing "!" and "?" marks ("e4!?", "Nf3?").
func stripAnnotations(m string) string {
	return strings.TrimRight(strings.TrimSpace(m), "!?")
}

func normalizeSAN(m string) string {
	s := strings.TrimRight(stripAnnotations(m), "+#")
	s = strings.ReplaceAll(s, "-", "")
	if !strings.Contains(s, "=") {
		if g := bareSANPromotion.FindStringSubmatch(s); g != nil {
			s = g[1] + "=" + strings.ToUpper(g[2])
		}
	} else {
		i := strings.Index(s, "=")
		s = s[:i+1] + strings.ToUpper(s[i+1:])
	}
	return s
}

// withSideToMove rewrites the active-color field of fen. Board-only FENs are padded.
func withSideToMove(fen string, c domain.Color) string {
	fields := strings.Fields(fen)
	defaults := []string{"", "w", "-", "-", "0", "1"}
	for len(fields) < len(defaults) {
		fields = append(fields, defaults[len(fields)])
	}
	if c == domain.Black {
		fields[1] = "b"
	} else {
		fields[1] = "w"
	}
	return strings.Join(fields[:6], " ")
}

// Board parses fen, which may be board-only, into a board with toMove to play.
func Board(fen string, toMove domain.Color) (*nchess.Board, error) {
	if strings.TrimSpace(fen) == "" {
		return nil, errors.New("empty position")
	}
	if !toMove.Valid() {
		toMove = domain.White
	}
	opt, err := nchess.FEN(withSideToMove(fen, toMove))
	if err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	return nchess.NewGame(opt).Position().Board(), nil
}
