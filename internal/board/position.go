package board

import (
	"errors"
	"strings"
)

// CastlingRights is a set of the four castling options.
type CastlingRights uint8

const (
	WhiteKingSideCastle CastlingRights = 1 << iota
	WhiteQueenSideCastle
	BlackKingSideCastle
	BlackQueenSideCastle

	NoCastling  CastlingRights = 0
	AllCastling                = WhiteKingSideCastle | WhiteQueenSideCastle | BlackKingSideCastle | BlackQueenSideCastle
)

func (cr CastlingRights) String() string {
	if cr == NoCastling {
		return "-"
	}
	var sb strings.Builder
	for i, ch := range "KQkq" {
		if cr&(1<<i) != 0 {
			sb.WriteRune(ch)
		}
	}
	return sb.String()
}

// castlingLoss lists the rights removed when a move touches a square.
var castlingLoss = func() (t [64]CastlingRights) {
	t[E1] = WhiteKingSideCastle | WhiteQueenSideCastle
	t[H1] = WhiteKingSideCastle
	t[A1] = WhiteQueenSideCastle
	t[E8] = BlackKingSideCastle | BlackQueenSideCastle
	t[H8] = BlackKingSideCastle
	t[A8] = BlackQueenSideCastle
	return t
}()

// Position is a chess position with redundant bitboard and mailbox views.
type Position struct {
	Pieces      [2][6]Bitboard
	Occupied    [2]Bitboard
	AllOccupied Bitboard
	Board       [64]Piece

	SideToMove     Color
	CastlingRights CastlingRights
	EnPassant      Square // set only when an en passant capture is possible
	HalfMoveClock  int
	FullMoveNumber int

	Hash    uint64
	PawnKey uint64

	KingSquare [2]Square

	checkInfo
}

// checkInfo is recomputed after every move and restored on undo.
type checkInfo struct {
	// Checkers are the enemy pieces giving check to the side to move.
	Checkers Bitboard
	// pinned are side-to-move pieces shielding their own king.
	pinned Bitboard
	// discoverers are side-to-move pieces shielding the enemy king from
	// one of our sliders.
	discoverers Bitboard
	// checkSquares[pt] are the squares from which pt would attack the enemy king.
	checkSquares [6]Bitboard
}

// UndoInfo carries what UnmakeMove cannot recompute.
type UndoInfo struct {
	Captured       Piece
	CastlingRights CastlingRights
	EnPassant      Square
	HalfMoveClock  int
	Hash           uint64
	PawnKey        uint64
	check          checkInfo
}

// NullMoveUndo restores a passed turn.
type NullMoveUndo struct {
	EnPassant     Square
	HalfMoveClock int
	Hash          uint64
	check         checkInfo
}

// NewPosition returns the initial position.
func NewPosition() *Position {
	pos, _ := ParseFEN(StartFEN)
	return pos
}

func (p *Position) Copy() *Position {
	c := *p
	return &c
}

// PieceAt returns the piece on sq or NoPiece.
func (p *Position) PieceAt(sq Square) Piece { return p.Board[sq] }

func (p *Position) IsEmpty(sq Square) bool { return p.Board[sq] == NoPiece }

func (p *Position) InCheck() bool { return p.Checkers != 0 }

// PieceCount returns the number of pieces on the board, kings included.
func (p *Position) PieceCount() int { return p.AllOccupied.PopCount() }

func (p *Position) put(pc Piece, sq Square) {
	c, pt := pc.Color(), pc.Type()
	b := SquareBB(sq)
	p.Pieces[c][pt] |= b
	p.Occupied[c] |= b
	p.AllOccupied |= b
	p.Board[sq] = pc
	if pt == King {
		p.KingSquare[c] = sq
	}
}

func (p *Position) remove(sq Square) {
	pc := p.Board[sq]
	c, pt := pc.Color(), pc.Type()
	b := SquareBB(sq)
	p.Pieces[c][pt] &^= b
	p.Occupied[c] &^= b
	p.AllOccupied &^= b
	p.Board[sq] = NoPiece
}

func (p *Position) relocate(from, to Square) {
	pc := p.Board[from]
	c, pt := pc.Color(), pc.Type()
	b := SquareBB(from) | SquareBB(to)
	p.Pieces[c][pt] ^= b
	p.Occupied[c] ^= b
	p.AllOccupied ^= b
	p.Board[from] = NoPiece
	p.Board[to] = pc
	if pt == King {
		p.KingSquare[c] = to
	}
}

// AttackersTo returns pieces of both colors attacking sq under occupancy occ.
func (p *Position) AttackersTo(sq Square, occ Bitboard) Bitboard {
	return p.AttackersByColor(sq, White, occ) | p.AttackersByColor(sq, Black, occ)
}

// AttackersByColor returns c's pieces attacking sq under occupancy occ.
func (p *Position) AttackersByColor(sq Square, c Color, occ Bitboard) Bitboard {
	pc := &p.Pieces[c]
	return pawnAttacks[c.Other()][sq]&pc[Pawn] |
		knightAttacks[sq]&pc[Knight] |
		kingAttacks[sq]&pc[King] |
		BishopAttacks(sq, occ)&(pc[Bishop]|pc[Queen]) |
		RookAttacks(sq, occ)&(pc[Rook]|pc[Queen])
}

func (p *Position) IsSquareAttacked(sq Square, by Color) bool {
	return p.AttackersByColor(sq, by, p.AllOccupied) != 0
}

// sliderBlockers returns the single pieces standing between s and one of
// the given sliders.
func (p *Position) sliderBlockers(sliders Bitboard, s Square) Bitboard {
	var blockers Bitboard
	snipers := (RookAttacks(s, 0)&(p.Pieces[White][Rook]|p.Pieces[Black][Rook]|p.Pieces[White][Queen]|p.Pieces[Black][Queen]) |
		BishopAttacks(s, 0)&(p.Pieces[White][Bishop]|p.Pieces[Black][Bishop]|p.Pieces[White][Queen]|p.Pieces[Black][Queen])) & sliders
	for snipers != 0 {
		b := Between(snipers.PopLSB(), s) & p.AllOccupied
		if b != 0 && !b.MoreThanOne() {
			blockers |= b
		}
	}
	return blockers
}

// refreshCheckInfo recomputes checkers, pins and checking squares for the
// side to move.
func (p *Position) refreshCheckInfo() {
	us, them := p.SideToMove, p.SideToMove.Other()
	ksq, theirKing := p.KingSquare[us], p.KingSquare[them]
	occ := p.AllOccupied

	p.Checkers = p.AttackersByColor(ksq, them, occ)
	p.pinned = p.sliderBlockers(p.Occupied[them], ksq) & p.Occupied[us]
	p.discoverers = p.sliderBlockers(p.Occupied[us], theirKing) & p.Occupied[us]

	p.checkSquares[Pawn] = pawnAttacks[them][theirKing]
	p.checkSquares[Knight] = knightAttacks[theirKing]
	p.checkSquares[Bishop] = BishopAttacks(theirKing, occ)
	p.checkSquares[Rook] = RookAttacks(theirKing, occ)
	p.checkSquares[Queen] = p.checkSquares[Bishop] | p.checkSquares[Rook]
	p.checkSquares[King] = 0
}

// Pinned returns the side-to-move pieces pinned to their own king.
func (p *Position) Pinned() Bitboard { return p.pinned }

// MovedPiece returns the piece standing on the origin square of m.
func (p *Position) MovedPiece(m Move) Piece { return p.Board[m.From()] }

// CapturedPiece returns the piece m would capture, NoPiece for none.
func (p *Position) CapturedPiece(m Move) Piece {
	if m.IsEnPassant() {
		return NewPiece(Pawn, p.SideToMove.Other())
	}
	if m.IsCastling() {
		return NoPiece
	}
	return p.Board[m.To()]
}

func (p *Position) IsCapture(m Move) bool {
	return m.IsEnPassant() || (!m.IsCastling() && p.Board[m.To()] != NoPiece)
}

func (p *Position) IsCaptureOrPromotion(m Move) bool {
	return m.IsPromotion() || p.IsCapture(m)
}

// AdvancedPawnPush reports a pawn move starting beyond its fourth rank.
func (p *Position) AdvancedPawnPush(m Move) bool {
	return p.Board[m.From()].Type() == Pawn && m.From().RelativeRank(p.SideToMove) > 3
}

// NonPawnMaterial sums c's knights, bishops, rooks and queens on the
// PieceValue scale.
func (p *Position) NonPawnMaterial(c Color) int {
	v := 0
	for pt := Knight; pt <= Queen; pt++ {
		v += p.Pieces[c][pt].PopCount() * PieceValue[pt]
	}
	return v
}

// HasNonPawnMaterial reports whether the side to move has a piece besides
// pawns and king.
func (p *Position) HasNonPawnMaterial() bool {
	return p.NonPawnMaterial(p.SideToMove) != 0
}

// Validate rejects positions the search cannot handle.
func (p *Position) Validate() error {
	for c := White; c <= Black; c++ {
		if p.Pieces[c][King].PopCount() != 1 {
			return errors.New("each side needs exactly one king")
		}
	}
	if (p.Pieces[White][Pawn]|p.Pieces[Black][Pawn])&(Rank1|Rank8) != 0 {
		return errors.New("pawn on a back rank")
	}
	them := p.SideToMove.Other()
	if p.IsSquareAttacked(p.KingSquare[them], p.SideToMove) {
		return errors.New("side not to move is in check")
	}
	return nil
}

// IsInsufficientMaterial reports positions where neither side can mate:
// bare kings or a single minor piece.
func (p *Position) IsInsufficientMaterial() bool {
	for c := White; c <= Black; c++ {
		if p.Pieces[c][Pawn]|p.Pieces[c][Rook]|p.Pieces[c][Queen] != 0 {
			return false
		}
	}
	minors := p.Pieces[White][Knight] | p.Pieces[White][Bishop] | p.Pieces[Black][Knight] | p.Pieces[Black][Bishop]
	return !minors.MoreThanOne()
}

func (p *Position) String() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		for file := range 8 {
			sb.WriteString(p.Board[NewSquare(file, rank)].String())
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(p.ToFEN())
	return sb.String()
}
