package board

import (
	"math/bits"
	"strings"
)

// Bitboard is a set of squares, bit i standing for Square(i).
type Bitboard uint64

const (
	FileA Bitboard = 0x0101010101010101
	FileH Bitboard = FileA << 7

	Rank1 Bitboard = 0xFF
	Rank2 Bitboard = Rank1 << 8
	Rank3 Bitboard = Rank1 << 16
	Rank4 Bitboard = Rank1 << 24
	Rank5 Bitboard = Rank1 << 32
	Rank6 Bitboard = Rank1 << 40
	Rank7 Bitboard = Rank1 << 48
	Rank8 Bitboard = Rank1 << 56

	Empty Bitboard = 0
)

// FileMask and RankMask are indexed by 0-based file and rank.
var (
	FileMask [8]Bitboard
	RankMask [8]Bitboard
)

func init() {
	for i := range 8 {
		FileMask[i] = FileA << i
		RankMask[i] = Rank1 << (8 * i)
	}
}

// SquareBB returns the singleton set of sq.
func SquareBB(sq Square) Bitboard { return 1 << sq }

func (b Bitboard) Has(sq Square) bool { return b&SquareBB(sq) != 0 }

func (b Bitboard) PopCount() int { return bits.OnesCount64(uint64(b)) }

// MoreThanOne reports whether at least two squares are set.
func (b Bitboard) MoreThanOne() bool { return b&(b-1) != 0 }

// LSB returns the lowest set square, NoSquare for an empty set.
func (b Bitboard) LSB() Square {
	if b == 0 {
		return NoSquare
	}
	return Square(bits.TrailingZeros64(uint64(b)))
}

// PopLSB clears and returns the lowest set square.
func (b *Bitboard) PopLSB() Square {
	sq := Square(bits.TrailingZeros64(uint64(*b)))
	*b &= *b - 1
	return sq
}

// shift moves every square one step in direction d, dropping squares that
// would wrap around the a/h files.
func (b Bitboard) shift(d int) Bitboard {
	switch d {
	case 8:
		return b << 8
	case -8:
		return b >> 8
	case 9:
		return (b &^ FileH) << 9
	case 7:
		return (b &^ FileA) << 7
	case -7:
		return (b &^ FileH) >> 7
	case -9:
		return (b &^ FileA) >> 9
	case 1:
		return (b &^ FileH) << 1
	case -1:
		return (b &^ FileA) >> 1
	}
	return 0
}

func (b Bitboard) String() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		for file := range 8 {
			if b.Has(NewSquare(file, rank)) {
				sb.WriteString("1 ")
			} else {
				sb.WriteString(". ")
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
