package board

type genKind uint8

const (
	// genCaptures yields captures and every promotion, capturing or not.
	genCaptures genKind = iota
	// genQuiets yields the remaining moves, castling included.
	genQuiets
	// genEvasions yields king steps, blocks and captures of a single checker.
	genEvasions
	// genNonEvasions yields captures and quiets together.
	genNonEvasions
)

// GenerateCaptures appends pseudo-legal captures and promotions.
func (p *Position) GenerateCaptures(ml *MoveList) { p.generate(ml, genCaptures) }

// GenerateQuiets appends pseudo-legal non-capturing, non-promoting moves.
func (p *Position) GenerateQuiets(ml *MoveList) { p.generate(ml, genQuiets) }

// GenerateEvasions appends pseudo-legal check evasions. Only valid in check.
func (p *Position) GenerateEvasions(ml *MoveList) { p.generate(ml, genEvasions) }

// GenerateQuietChecks appends quiet moves that give check. Not valid in check.
func (p *Position) GenerateQuietChecks(ml *MoveList) {
	var quiets MoveList
	p.generate(&quiets, genQuiets)
	for _, m := range quiets.Slice() {
		if p.GivesCheck(m) {
			ml.Add(m)
		}
	}
}

// GeneratePseudoLegalMoves appends every pseudo-legal move.
func (p *Position) GeneratePseudoLegalMoves(ml *MoveList) {
	if p.InCheck() {
		p.generate(ml, genEvasions)
	} else {
		p.generate(ml, genNonEvasions)
	}
}

// GenerateLegalMoves returns the legal moves of the position.
func (p *Position) GenerateLegalMoves() *MoveList {
	var pseudo MoveList
	p.GeneratePseudoLegalMoves(&pseudo)
	legal := NewMoveList()
	for _, m := range pseudo.Slice() {
		if p.IsLegal(m) {
			legal.Add(m)
		}
	}
	return legal
}

func (p *Position) HasLegalMoves() bool {
	var pseudo MoveList
	p.GeneratePseudoLegalMoves(&pseudo)
	for _, m := range pseudo.Slice() {
		if p.IsLegal(m) {
			return true
		}
	}
	return false
}

func (p *Position) IsCheckmate() bool { return p.InCheck() && !p.HasLegalMoves() }
func (p *Position) IsStalemate() bool { return !p.InCheck() && !p.HasLegalMoves() }

func (p *Position) generate(ml *MoveList, kind genKind) {
	us := p.SideToMove
	if kind == genEvasions {
		p.generateEvasions(ml)
		return
	}

	var target Bitboard
	switch kind {
	case genCaptures:
		target = p.Occupied[us.Other()]
	case genQuiets:
		target = ^p.AllOccupied
	default:
		target = ^p.Occupied[us]
	}

	p.generatePawnMoves(ml, kind, target)
	p.generatePieceMoves(ml, target)

	ksq := p.KingSquare[us]
	for b := kingAttacks[ksq] & target; b != 0; {
		ml.Add(NewMove(ksq, b.PopLSB()))
	}
	if kind != genCaptures && p.Checkers == 0 {
		p.generateCastling(ml)
	}
}

func (p *Position) generatePieceMoves(ml *MoveList, target Bitboard) {
	us := p.SideToMove
	for pt := Knight; pt <= Queen; pt++ {
		for pieces := p.Pieces[us][pt]; pieces != 0; {
			from := pieces.PopLSB()
			for b := AttacksFrom(pt, from, p.AllOccupied) & target; b != 0; {
				ml.Add(NewMove(from, b.PopLSB()))
			}
		}
	}
}

func addPromotions(ml *MoveList, from, to Square) {
	ml.Add(NewPromotion(from, to, Queen))
	ml.Add(NewPromotion(from, to, Rook))
	ml.Add(NewPromotion(from, to, Bishop))
	ml.Add(NewPromotion(from, to, Knight))
}

// generatePawnMoves emits pawn moves for kind. For evasions, target holds
// the checker and the squares between it and the king.
func (p *Position) generatePawnMoves(ml *MoveList, kind genKind, target Bitboard) {
	us, them := p.SideToMove, p.SideToMove.Other()
	up := pawnPush(us)
	promoRank, thirdRank := Rank8, Rank3
	captureDirs := [2]int{7, 9}
	if us == Black {
		promoRank, thirdRank = Rank1, Rank6
		captureDirs = [2]int{-7, -9}
	}

	pawns := p.Pieces[us][Pawn]
	empty := ^p.AllOccupied
	enemies := p.Occupied[them]
	pushMask := Bitboard(^uint64(0))
	if kind == genEvasions {
		enemies &= target
		pushMask = target
	}

	single := pawns.shift(up) & empty

	if kind != genCaptures {
		double := (single & thirdRank).shift(up) & empty & pushMask
		for b := single &^ promoRank & pushMask; b != 0; {
			to := b.PopLSB()
			ml.Add(NewMove(Square(int(to)-up), to))
		}
		for b := double; b != 0; {
			to := b.PopLSB()
			ml.Add(NewMove(Square(int(to)-2*up), to))
		}
	}

	if kind == genQuiets {
		return
	}

	for b := single & promoRank & pushMask; b != 0; {
		to := b.PopLSB()
		addPromotions(ml, Square(int(to)-up), to)
	}
	for _, d := range captureDirs {
		caps := pawns.shift(d) & enemies
		for b := caps & promoRank; b != 0; {
			to := b.PopLSB()
			addPromotions(ml, Square(int(to)-d), to)
		}
		for b := caps &^ promoRank; b != 0; {
			to := b.PopLSB()
			ml.Add(NewMove(Square(int(to)-d), to))
		}
	}

	if ep := p.EnPassant; ep != NoSquare {
		// In check, en passant only helps when it removes the checking pawn.
		if kind == genEvasions && !target.Has(Square(int(ep)-up)) {
			return
		}
		for b := pawnAttacks[them][ep] & pawns; b != 0; {
			ml.Add(NewEnPassant(b.PopLSB(), ep))
		}
	}
}

func (p *Position) generateEvasions(ml *MoveList) {
	us, them := p.SideToMove, p.SideToMove.Other()
	ksq := p.KingSquare[us]

	// Squares behind the king on a slider's line stay attacked once it steps away.
	var rays Bitboard
	for b := p.Checkers &^ (p.Pieces[them][Pawn] | p.Pieces[them][Knight]); b != 0; {
		sq := b.PopLSB()
		rays |= Line(sq, ksq) &^ SquareBB(sq)
	}
	for b := kingAttacks[ksq] &^ p.Occupied[us] &^ rays; b != 0; {
		ml.Add(NewMove(ksq, b.PopLSB()))
	}

	if p.Checkers.MoreThanOne() {
		return
	}
	checker := p.Checkers.LSB()
	target := Between(checker, ksq) | SquareBB(checker)
	p.generatePawnMoves(ml, genEvasions, target)
	p.generatePieceMoves(ml, target)
}

type castleSide struct {
	right      CastlingRights
	kingTo     Square
	rookFrom   Square
	mustEmpty  Bitboard
	mustBeSafe Bitboard
}

var castleSides = [2][2]castleSide{
	{
		{WhiteKingSideCastle, G1, H1, SquareBB(F1) | SquareBB(G1), SquareBB(F1) | SquareBB(G1)},
		{WhiteQueenSideCastle, C1, A1, SquareBB(B1) | SquareBB(C1) | SquareBB(D1), SquareBB(C1) | SquareBB(D1)},
	},
	{
		{BlackKingSideCastle, G8, H8, SquareBB(F8) | SquareBB(G8), SquareBB(F8) | SquareBB(G8)},
		{BlackQueenSideCastle, C8, A8, SquareBB(B8) | SquareBB(C8) | SquareBB(D8), SquareBB(C8) | SquareBB(D8)},
	},
}

// generateCastling emits fully legal castling moves; the caller guarantees
// the king is not in check.
func (p *Position) generateCastling(ml *MoveList) {
	us, them := p.SideToMove, p.SideToMove.Other()
	ksq := p.KingSquare[us]
	if ksq != E1.Relative(us) {
		return
	}
	for _, cs := range castleSides[us] {
		if p.CastlingRights&cs.right == 0 || p.AllOccupied&cs.mustEmpty != 0 ||
			p.Board[cs.rookFrom] != NewPiece(Rook, us) {
			continue
		}
		safe := true
		for b := cs.mustBeSafe; b != 0 && safe; {
			safe = !p.IsSquareAttacked(b.PopLSB(), them)
		}
		if safe {
			ml.Add(NewCastling(ksq, cs.kingTo))
		}
	}
}

// Perft counts the leaves of the legal move tree at depth.
func (p *Position) Perft(depth int) uint64 {
	if depth <= 0 {
		return 1
	}
	moves := p.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}
	var nodes uint64
	for _, m := range moves.Slice() {
		undo := p.MakeMove(m)
		nodes += p.Perft(depth - 1)
		p.UnmakeMove(m, undo)
	}
	return nodes
}
