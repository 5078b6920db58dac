package engine

import (
	"github.com/hailam/chesssearch/internal/board"
)

var seeValue = [7]Value{PawnValueMg, KnightValueMg, BishopValueMg, RookValueMg, QueenValueMg, 20000, 0}

// SeeGE reports whether the static exchange on m's destination square
// nets the mover at least threshold. The mover is the color of the piece
// on m's origin, which need not be the side to move. Castling is treated
// as neutral.
func SeeGE(pos *board.Position, m board.Move, threshold Value) bool {
	if m.IsCastling() {
		return threshold <= 0
	}

	from, to := m.From(), m.To()
	moving := pos.PieceAt(from)
	us := moving.Color()
	nextVictim := moving.Type()

	balance := Value(0)
	if captured := pos.CapturedPiece(m); captured != board.NoPiece {
		balance = seeValue[captured.Type()]
	}
	if m.IsPromotion() {
		nextVictim = m.Promotion()
		balance += seeValue[nextVictim] - seeValue[board.Pawn]
	}
	balance -= threshold
	if balance < 0 {
		return false
	}

	balance -= seeValue[nextVictim]
	if balance >= 0 {
		return true
	}

	occupied := pos.AllOccupied&^board.SquareBB(from) | board.SquareBB(to)
	if m.IsEnPassant() {
		capSq := to - 8
		if us == board.Black {
			capSq = to + 8
		}
		occupied &^= board.SquareBB(capSq)
	}

	attackers := pos.AttackersTo(to, occupied) & occupied
	bishops := pos.Pieces[board.White][board.Bishop] | pos.Pieces[board.Black][board.Bishop] |
		pos.Pieces[board.White][board.Queen] | pos.Pieces[board.Black][board.Queen]
	rooks := pos.Pieces[board.White][board.Rook] | pos.Pieces[board.Black][board.Rook] |
		pos.Pieces[board.White][board.Queen] | pos.Pieces[board.Black][board.Queen]

	side := us.Other()
	for {
		mine := attackers & pos.Occupied[side]
		if mine == 0 {
			break
		}

		pt, sq := leastValuableAttacker(pos, side, mine)
		occupied &^= board.SquareBB(sq)

		// Sliders lined up behind the attacker join the exchange.
		if pt == board.Pawn || pt == board.Bishop || pt == board.Queen {
			attackers |= board.BishopAttacks(to, occupied) & bishops
		}
		if pt == board.Rook || pt == board.Queen {
			attackers |= board.RookAttacks(to, occupied) & rooks
		}
		attackers &= occupied

		side = side.Other()
		balance = -balance - 1 - seeValue[pt]
		if balance >= 0 {
			// A king may not capture into a defended square.
			if pt == board.King && attackers&pos.Occupied[side] != 0 {
				side = side.Other()
			}
			break
		}
	}

	return side != us
}

func leastValuableAttacker(pos *board.Position, c board.Color, attackers board.Bitboard) (board.PieceType, board.Square) {
	for pt := board.Pawn; pt <= board.King; pt++ {
		if bb := pos.Pieces[c][pt] & attackers; bb != 0 {
			return pt, bb.LSB()
		}
	}
	return board.NoPieceType, board.NoSquare
}
