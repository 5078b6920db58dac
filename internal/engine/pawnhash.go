package engine

import "github.com/hailam/chesssearch/internal/board"

// pawnEntry caches the pawn-only terms of the classical evaluation,
// scored from White's point of view.
type pawnEntry struct {
	key    uint64
	mg, eg int16
	passed [2]board.Bitboard
}

// PawnTable is a per-worker cache keyed by the pawn Zobrist key.
type PawnTable struct {
	entries []pawnEntry
	mask    uint64
}

// NewPawnTable creates a pawn hash table of about sizeKB kilobytes.
func NewPawnTable(sizeKB int) *PawnTable {
	const entryBytes = 32
	n := roundDownToPowerOf2(uint64(max(sizeKB, 1)) * 1024 / entryBytes)
	return &PawnTable{
		entries: make([]pawnEntry, n),
		mask:    n - 1,
	}
}

// probe returns the entry for key and whether it holds key's data. A miss
// returns the slot to fill.
func (pt *PawnTable) probe(key uint64) (*pawnEntry, bool) {
	e := &pt.entries[key&pt.mask]
	return e, e.key == key && key != 0
}

// Clear empties the table.
func (pt *PawnTable) Clear() {
	clear(pt.entries)
}
