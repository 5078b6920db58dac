package board

// castlingRook returns the rook's squares for a king step from kfrom to kto.
func castlingRook(kfrom, kto Square) (from, to Square) {
	if kto > kfrom {
		return kfrom + 3, kfrom + 1
	}
	return kfrom - 4, kfrom - 1
}

// MakeMove plays a legal move. Every call must be paired with UnmakeMove
// using the returned UndoInfo.
func (p *Position) MakeMove(m Move) UndoInfo {
	undo := UndoInfo{
		Captured:       NoPiece,
		CastlingRights: p.CastlingRights,
		EnPassant:      p.EnPassant,
		HalfMoveClock:  p.HalfMoveClock,
		Hash:           p.Hash,
		PawnKey:        p.PawnKey,
		check:          p.checkInfo,
	}

	us, them := p.SideToMove, p.SideToMove.Other()
	from, to := m.From(), m.To()
	pc := p.Board[from]
	pt := pc.Type()

	h := p.Hash ^ zobristSideToMove
	if p.EnPassant != NoSquare {
		h ^= zobristEnPassant[p.EnPassant.File()]
		p.EnPassant = NoSquare
	}
	p.HalfMoveClock++

	if m.IsCastling() {
		rfrom, rto := castlingRook(from, to)
		p.relocate(from, to)
		p.relocate(rfrom, rto)
		h ^= zobristPiece[us][King][from] ^ zobristPiece[us][King][to] ^
			zobristPiece[us][Rook][rfrom] ^ zobristPiece[us][Rook][rto]
	} else {
		capsq := to
		if m.IsEnPassant() {
			capsq = Square(int(to) - pawnPush(us))
		}
		if captured := p.Board[capsq]; captured != NoPiece {
			ct := captured.Type()
			p.remove(capsq)
			h ^= zobristPiece[them][ct][capsq]
			if ct == Pawn {
				p.PawnKey ^= zobristPiece[them][Pawn][capsq]
			}
			undo.Captured = captured
			p.HalfMoveClock = 0
		}

		p.relocate(from, to)
		h ^= zobristPiece[us][pt][from] ^ zobristPiece[us][pt][to]

		if pt == Pawn {
			p.HalfMoveClock = 0
			p.PawnKey ^= zobristPiece[us][Pawn][from] ^ zobristPiece[us][Pawn][to]

			if int(to)^int(from) == 16 {
				ep := Square((int(from) + int(to)) / 2)
				if pawnAttacks[us][ep]&p.Pieces[them][Pawn] != 0 {
					p.EnPassant = ep
					h ^= zobristEnPassant[ep.File()]
				}
			} else if m.IsPromotion() {
				promo := m.Promotion()
				p.remove(to)
				p.put(NewPiece(promo, us), to)
				h ^= zobristPiece[us][Pawn][to] ^ zobristPiece[us][promo][to]
				p.PawnKey ^= zobristPiece[us][Pawn][to]
			}
		}
	}

	if lost := castlingLoss[from] | castlingLoss[to]; p.CastlingRights&lost != 0 {
		h ^= zobristCastling[p.CastlingRights]
		p.CastlingRights &^= lost
		h ^= zobristCastling[p.CastlingRights]
	}

	if us == Black {
		p.FullMoveNumber++
	}
	p.SideToMove = them
	p.Hash = h
	p.refreshCheckInfo()
	return undo
}

// UnmakeMove takes back m, which must be the last move made.
func (p *Position) UnmakeMove(m Move, undo UndoInfo) {
	us := p.SideToMove.Other()
	p.SideToMove = us
	if us == Black {
		p.FullMoveNumber--
	}

	from, to := m.From(), m.To()
	if m.IsCastling() {
		rfrom, rto := castlingRook(from, to)
		p.relocate(to, from)
		p.relocate(rto, rfrom)
	} else {
		if m.IsPromotion() {
			p.remove(to)
			p.put(NewPiece(Pawn, us), to)
		}
		p.relocate(to, from)
		if undo.Captured != NoPiece {
			capsq := to
			if m.IsEnPassant() {
				capsq = Square(int(to) - pawnPush(us))
			}
			p.put(undo.Captured, capsq)
		}
	}

	p.CastlingRights = undo.CastlingRights
	p.EnPassant = undo.EnPassant
	p.HalfMoveClock = undo.HalfMoveClock
	p.Hash = undo.Hash
	p.PawnKey = undo.PawnKey
	p.checkInfo = undo.check
}

// MakeNullMove passes the turn. It must not be called while in check.
func (p *Position) MakeNullMove() NullMoveUndo {
	undo := NullMoveUndo{
		EnPassant:     p.EnPassant,
		HalfMoveClock: p.HalfMoveClock,
		Hash:          p.Hash,
		check:         p.checkInfo,
	}
	if p.EnPassant != NoSquare {
		p.Hash ^= zobristEnPassant[p.EnPassant.File()]
		p.EnPassant = NoSquare
	}
	p.Hash ^= zobristSideToMove
	p.HalfMoveClock++
	p.SideToMove = p.SideToMove.Other()
	p.refreshCheckInfo()
	return undo
}

func (p *Position) UnmakeNullMove(undo NullMoveUndo) {
	p.SideToMove = p.SideToMove.Other()
	p.EnPassant = undo.EnPassant
	p.HalfMoveClock = undo.HalfMoveClock
	p.Hash = undo.Hash
	p.checkInfo = undo.check
}

// IsLegal tells whether a pseudo-legal move leaves the own king safe.
func (p *Position) IsLegal(m Move) bool {
	us, them := p.SideToMove, p.SideToMove.Other()
	from, to := m.From(), m.To()
	ksq := p.KingSquare[us]

	if m.IsEnPassant() {
		capsq := Square(int(to) - pawnPush(us))
		occ := p.AllOccupied ^ SquareBB(from) ^ SquareBB(capsq) | SquareBB(to)
		return RookAttacks(ksq, occ)&(p.Pieces[them][Rook]|p.Pieces[them][Queen]) == 0 &&
			BishopAttacks(ksq, occ)&(p.Pieces[them][Bishop]|p.Pieces[them][Queen]) == 0
	}

	if from == ksq {
		// Castling is only generated when the king's path is safe.
		if m.IsCastling() {
			return true
		}
		return p.AttackersByColor(to, them, p.AllOccupied^SquareBB(from)) == 0
	}

	return !p.pinned.Has(from) || Aligned(from, to, ksq)
}

// GivesCheck tells whether a pseudo-legal move checks the opponent.
func (p *Position) GivesCheck(m Move) bool {
	us := p.SideToMove
	from, to := m.From(), m.To()
	theirKing := p.KingSquare[us.Other()]

	if p.checkSquares[p.Board[from].Type()].Has(to) && !m.IsCastling() {
		return true
	}
	if p.discoverers.Has(from) && !Aligned(from, to, theirKing) {
		return true
	}

	switch m.Flag() {
	case FlagPromotion:
		return AttacksFrom(m.Promotion(), to, p.AllOccupied^SquareBB(from)).Has(theirKing)
	case FlagEnPassant:
		capsq := NewSquare(to.File(), from.Rank())
		occ := p.AllOccupied ^ SquareBB(from) ^ SquareBB(capsq) | SquareBB(to)
		return RookAttacks(theirKing, occ)&(p.Pieces[us][Rook]|p.Pieces[us][Queen]) != 0 ||
			BishopAttacks(theirKing, occ)&(p.Pieces[us][Bishop]|p.Pieces[us][Queen]) != 0
	case FlagCastling:
		rfrom, rto := castlingRook(from, to)
		occ := p.AllOccupied ^ SquareBB(from) ^ SquareBB(rfrom) | SquareBB(rto) | SquareBB(to)
		return RookAttacks(rto, occ).Has(theirKing)
	}
	return false
}

// IsPseudoLegal validates a move that did not come from the generator for
// this exact position, such as a hash table or killer move.
func (p *Position) IsPseudoLegal(m Move) bool {
	if !m.IsOK() {
		return false
	}
	us, them := p.SideToMove, p.SideToMove.Other()
	from, to := m.From(), m.To()
	pc := p.Board[from]

	if m.Flag() != FlagNormal {
		var ml MoveList
		if p.InCheck() {
			p.generate(&ml, genEvasions)
		} else {
			p.generate(&ml, genNonEvasions)
		}
		return ml.Contains(m)
	}

	if pc == NoPiece || pc.Color() != us || p.Occupied[us].Has(to) {
		return false
	}

	if pc.Type() == Pawn {
		if to.RelativeRank(us) == 7 {
			return false
		}
		push := pawnPush(us)
		capture := pawnAttacks[us][from]&p.Occupied[them]&SquareBB(to) != 0
		single := int(to) == int(from)+push && p.IsEmpty(to)
		double := int(to) == int(from)+2*push && from.RelativeRank(us) == 1 &&
			p.IsEmpty(to) && p.IsEmpty(Square(int(to)-push))
		if !capture && !single && !double {
			return false
		}
	} else if !AttacksFrom(pc.Type(), from, p.AllOccupied).Has(to) {
		return false
	}

	if p.Checkers != 0 {
		if pc.Type() != King {
			if p.Checkers.MoreThanOne() {
				return false
			}
			if !(Between(p.Checkers.LSB(), p.KingSquare[us]) | p.Checkers).Has(to) {
				return false
			}
		} else if p.AttackersByColor(to, them, p.AllOccupied^SquareBB(from)) != 0 {
			return false
		}
	}
	return true
}
