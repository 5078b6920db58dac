package board

var (
	zobristPiece      [2][6][64]uint64
	zobristEnPassant  [8]uint64
	zobristCastling   [16]uint64
	zobristSideToMove uint64
)

// prng is xorshift64*, shared by key and magic generation.
type prng struct {
	state uint64
}

func (r *prng) next() uint64 {
	r.state ^= r.state >> 12
	r.state ^= r.state << 25
	r.state ^= r.state >> 27
	return r.state * 0x2545F4914F6CDD1D
}

// sparse returns a number with roughly 1/8 of its bits set.
func (r *prng) sparse() uint64 {
	return r.next() & r.next() & r.next()
}

func init() {
	rng := prng{state: 1070372}
	for c := range 2 {
		for pt := range 6 {
			for sq := range 64 {
				zobristPiece[c][pt][sq] = rng.next()
			}
		}
	}
	for f := range zobristEnPassant {
		zobristEnPassant[f] = rng.next()
	}
	// Castling keys are composed from the four single-right keys so that
	// clearing one right is one XOR.
	var single [4]uint64
	for i := range single {
		single[i] = rng.next()
	}
	for cr := range zobristCastling {
		for i := range single {
			if cr&(1<<i) != 0 {
				zobristCastling[cr] ^= single[i]
			}
		}
	}
	zobristSideToMove = rng.next()
}

// ComputeHash recomputes the position key from scratch.
func (p *Position) ComputeHash() uint64 {
	var h uint64
	for sq := A1; sq <= H8; sq++ {
		if pc := p.Board[sq]; pc != NoPiece {
			h ^= zobristPiece[pc.Color()][pc.Type()][sq]
		}
	}
	if p.SideToMove == Black {
		h ^= zobristSideToMove
	}
	h ^= zobristCastling[p.CastlingRights]
	if p.EnPassant != NoSquare {
		h ^= zobristEnPassant[p.EnPassant.File()]
	}
	return h
}

// ComputePawnKey recomputes the pawn-only key from scratch.
func (p *Position) ComputePawnKey() uint64 {
	var h uint64
	for c := White; c <= Black; c++ {
		for b := p.Pieces[c][Pawn]; b != 0; {
			h ^= zobristPiece[c][Pawn][b.PopLSB()]
		}
	}
	return h
}
