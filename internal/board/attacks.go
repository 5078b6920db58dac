package board

import "math/bits"

// magic indexes the attack set of a slider on one square. Multipliers are
// searched for at start-up from fixed per-rank seeds, so tables are
// reproducible between runs.
type magic struct {
	mask    Bitboard
	magic   uint64
	shift   uint
	attacks []Bitboard
}

func (m *magic) index(occ Bitboard) uint64 {
	return uint64(occ&m.mask) * m.magic >> m.shift
}

var (
	knightAttacks [64]Bitboard
	kingAttacks   [64]Bitboard
	pawnAttacks   [2][64]Bitboard

	betweenBB [64][64]Bitboard
	lineBB    [64][64]Bitboard

	rookMagics   [64]magic
	bishopMagics [64]magic
	rookTable    [0x19000]Bitboard
	bishopTable  [0x1480]Bitboard
)

var (
	rookDirs   = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopDirs = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	knightSteps = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}

	magicSeeds = [8]uint64{728, 10316, 55013, 32803, 12281, 15100, 16645, 255}
)

func init() {
	for sq := A1; sq <= H8; sq++ {
		knightAttacks[sq] = rayAttacks(sq, 0, knightSteps, 1)
		kingAttacks[sq] = rayAttacks(sq, 0, kingSteps, 1)
		b := SquareBB(sq)
		pawnAttacks[White][sq] = b.shift(7) | b.shift(9)
		pawnAttacks[Black][sq] = b.shift(-7) | b.shift(-9)
	}

	initMagics(rookTable[:], &rookMagics, rookDirs)
	initMagics(bishopTable[:], &bishopMagics, bishopDirs)

	for s1 := A1; s1 <= H8; s1++ {
		for s2 := A1; s2 <= H8; s2++ {
			for _, pt := range [...]PieceType{Bishop, Rook} {
				if !AttacksFrom(pt, s1, 0).Has(s2) {
					continue
				}
				lineBB[s1][s2] = AttacksFrom(pt, s1, 0)&AttacksFrom(pt, s2, 0) | SquareBB(s1) | SquareBB(s2)
				betweenBB[s1][s2] = AttacksFrom(pt, s1, SquareBB(s2)) & AttacksFrom(pt, s2, SquareBB(s1))
			}
		}
	}
}

// rayAttacks walks each direction from sq for at most limit steps, stopping
// after the first occupied square.
func rayAttacks(sq Square, occ Bitboard, dirs [][2]int, limit int) Bitboard {
	var attacks Bitboard
	for _, d := range dirs {
		f, r := sq.File(), sq.Rank()
		for step := 0; step < limit; step++ {
			f, r = f+d[0], r+d[1]
			if f < 0 || f > 7 || r < 0 || r > 7 {
				break
			}
			s := NewSquare(f, r)
			attacks |= SquareBB(s)
			if occ.Has(s) {
				break
			}
		}
	}
	return attacks
}

func initMagics(table []Bitboard, magics *[64]magic, dirs [][2]int) {
	var occupancy, reference [4096]Bitboard
	var epoch [4096]int
	attempt, offset := 0, 0

	for sq := A1; sq <= H8; sq++ {
		edges := ((Rank1 | Rank8) &^ (Rank1 << (8 * sq.Rank()))) |
			((FileA | FileH) &^ (FileA << sq.File()))

		m := &magics[sq]
		m.mask = rayAttacks(sq, 0, dirs, 7) &^ edges
		m.shift = uint(64 - m.mask.PopCount())

		// Carry-rippler over every subset of the mask.
		size := 0
		for b := Bitboard(0); ; {
			occupancy[size] = b
			reference[size] = rayAttacks(sq, b, dirs, 7)
			size++
			b = (b - m.mask) & m.mask
			if b == 0 {
				break
			}
		}
		m.attacks = table[offset : offset+size]
		offset += size

		rng := prng{state: magicSeeds[sq.Rank()]}
		for i := 0; i < size; {
			for m.magic = 0; bits.OnesCount64(m.magic*uint64(m.mask)>>56) < 6; {
				m.magic = rng.sparse()
			}
			attempt++
			for i = 0; i < size; i++ {
				idx := m.index(occupancy[i])
				if epoch[idx] < attempt {
					epoch[idx] = attempt
					m.attacks[idx] = reference[i]
				} else if m.attacks[idx] != reference[i] {
					break
				}
			}
		}
	}
}

func KnightAttacks(sq Square) Bitboard { return knightAttacks[sq] }
func KingAttacks(sq Square) Bitboard   { return kingAttacks[sq] }

// PawnAttacks returns the squares a c-colored pawn on sq attacks.
func PawnAttacks(sq Square, c Color) Bitboard { return pawnAttacks[c][sq] }

func BishopAttacks(sq Square, occ Bitboard) Bitboard {
	m := &bishopMagics[sq]
	return m.attacks[m.index(occ)]
}

func RookAttacks(sq Square, occ Bitboard) Bitboard {
	m := &rookMagics[sq]
	return m.attacks[m.index(occ)]
}

func QueenAttacks(sq Square, occ Bitboard) Bitboard {
	return BishopAttacks(sq, occ) | RookAttacks(sq, occ)
}

// AttacksFrom returns the attack set of a non-pawn piece type.
func AttacksFrom(pt PieceType, sq Square, occ Bitboard) Bitboard {
	switch pt {
	case Knight:
		return knightAttacks[sq]
	case Bishop:
		return BishopAttacks(sq, occ)
	case Rook:
		return RookAttacks(sq, occ)
	case Queen:
		return QueenAttacks(sq, occ)
	case King:
		return kingAttacks[sq]
	}
	return 0
}

// Between returns the squares strictly between two aligned squares.
func Between(a, b Square) Bitboard { return betweenBB[a][b] }

// Line returns the full rank, file or diagonal through two aligned squares.
func Line(a, b Square) Bitboard { return lineBB[a][b] }

// Aligned reports whether c lies on the line through a and b.
func Aligned(a, b, c Square) bool { return lineBB[a][b].Has(c) }
