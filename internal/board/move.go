package board

import "fmt"

// Move packs a move into 16 bits:
//
//	bits 0-5   origin square
//	bits 6-11  destination square
//	bits 12-13 promotion piece, knight..queen
//	bits 14-15 kind: normal, promotion, en passant, castling
//
// Castling is encoded as the king's two-square step.
type Move uint16

const (
	FlagNormal    uint16 = 0 << 14
	FlagPromotion uint16 = 1 << 14
	FlagEnPassant uint16 = 2 << 14
	FlagCastling  uint16 = 3 << 14
)

// NoMove is the zero move; it is never generated since from == to.
const NoMove Move = 0

// NullMove marks a passed turn in search bookkeeping. It is never played
// through MakeMove.
const NullMove Move = 65

func NewMove(from, to Square) Move {
	return Move(from) | Move(to)<<6
}

func NewPromotion(from, to Square, promo PieceType) Move {
	return Move(from) | Move(to)<<6 | Move(promo-Knight)<<12 | Move(FlagPromotion)
}

func NewEnPassant(from, to Square) Move {
	return Move(from) | Move(to)<<6 | Move(FlagEnPassant)
}

func NewCastling(from, to Square) Move {
	return Move(from) | Move(to)<<6 | Move(FlagCastling)
}

func (m Move) From() Square { return Square(m & 0x3F) }
func (m Move) To() Square   { return Square(m >> 6 & 0x3F) }
func (m Move) Flag() uint16 { return uint16(m) & 0xC000 }

// Promotion is only meaningful when IsPromotion holds.
func (m Move) Promotion() PieceType { return PieceType(m>>12&3) + Knight }

func (m Move) IsPromotion() bool { return m.Flag() == FlagPromotion }
func (m Move) IsEnPassant() bool { return m.Flag() == FlagEnPassant }
func (m Move) IsCastling() bool  { return m.Flag() == FlagCastling }

// IsOK rejects NoMove and NullMove.
func (m Move) IsOK() bool { return m.From() != m.To() }

// String renders long algebraic notation, e.g. "e2e4" or "e7e8q".
func (m Move) String() string {
	switch m {
	case NoMove:
		return "0000"
	case NullMove:
		return "null"
	}
	s := m.From().String() + m.To().String()
	if m.IsPromotion() {
		s += string("nbrq"[m.Promotion()-Knight])
	}
	return s
}

// ParseMove resolves long algebraic notation against the legal moves of pos,
// so the returned move carries the right kind bits.
func ParseMove(s string, pos *Position) (Move, error) {
	legal := pos.GenerateLegalMoves()
	for _, m := range legal.Slice() {
		if m.String() == s {
			return m, nil
		}
	}
	return NoMove, fmt.Errorf("move %q is not legal in %s", s, pos.ToFEN())
}

// MaxMoves bounds the number of moves in any reachable position.
const MaxMoves = 256

// MoveList is a fixed-capacity move buffer.
type MoveList struct {
	moves [MaxMoves]Move
	count int
}

func NewMoveList() *MoveList { return &MoveList{} }

func (ml *MoveList) Add(m Move) {
	ml.moves[ml.count] = m
	ml.count++
}

func (ml *MoveList) Len() int          { return ml.count }
func (ml *MoveList) Get(i int) Move    { return ml.moves[i] }
func (ml *MoveList) Set(i int, m Move) { ml.moves[i] = m }
func (ml *MoveList) Clear()            { ml.count = 0 }
func (ml *MoveList) Slice() []Move     { return ml.moves[:ml.count] }

func (ml *MoveList) Contains(m Move) bool {
	for _, x := range ml.moves[:ml.count] {
		if x == m {
			return true
		}
	}
	return false
}
