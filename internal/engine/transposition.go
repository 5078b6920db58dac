package engine

import (
	"errors"
	"sync/atomic"

	"github.com/hailam/chesssearch/internal/board"
)

// clusterSize is the number of entries sharing one index.
const clusterSize = 4

// generationDelta advances the generation counter past the two bound bits.
const generationDelta = 4

// TTSlot is one table entry. The first word holds key^data and the second
// holds data, so a reader that sees words from two different writers fails
// the key check and treats the slot as a miss instead of trusting a torn
// score.
type TTSlot struct {
	key  atomic.Uint64
	data atomic.Uint64
}

type ttCluster struct {
	slots [clusterSize]TTSlot
}

// TTEntry is the decoded content of a slot.
type TTEntry struct {
	Move  board.Move
	Value Value
	Eval  Value
	Depth Depth
	Bound Bound
	gen   uint8
}

// data layout, low to high: move 16 | value 16 | eval 16 | depth 8 | gen|bound 8
func pack(move board.Move, value, eval Value, depth Depth, genBound uint8) uint64 {
	return uint64(move) |
		uint64(uint16(int16(value)))<<16 |
		uint64(uint16(int16(eval)))<<32 |
		uint64(uint8(depth-DepthNone))<<48 |
		uint64(genBound)<<56
}

func unpack(data uint64) TTEntry {
	genBound := uint8(data >> 56)
	return TTEntry{
		Move:  board.Move(data),
		Value: Value(int16(data >> 16)),
		Eval:  Value(int16(data >> 32)),
		Depth: Depth(uint8(data>>48)) + DepthNone,
		Bound: Bound(genBound & 0x3),
		gen:   genBound &^ 0x3,
	}
}

// TranspositionTable is shared by all workers without locks.
type TranspositionTable struct {
	clusters   []ttCluster
	mask       uint64
	generation atomic.Uint32
}

// NewTranspositionTable creates a table of about sizeMB megabytes.
func NewTranspositionTable(sizeMB int) *TranspositionTable {
	tt := &TranspositionTable{}
	tt.Resize(sizeMB)
	return tt
}

// Resize reallocates the table. Existing entries are lost.
func (tt *TranspositionTable) Resize(sizeMB int) {
	if sizeMB < 1 {
		sizeMB = 1
	}
	const clusterBytes = clusterSize * 16
	n := roundDownToPowerOf2(uint64(sizeMB) * 1024 * 1024 / clusterBytes)
	tt.clusters = make([]ttCluster, n)
	tt.mask = n - 1
	tt.generation.Store(0)
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// Clusters returns the number of clusters.
func (tt *TranspositionTable) Clusters() int { return len(tt.clusters) }

func (tt *TranspositionTable) gen() uint8 { return uint8(tt.generation.Load()) }

// NewSearch ages every stored entry by one generation.
func (tt *TranspositionTable) NewSearch() {
	tt.generation.Add(generationDelta)
}

// Clear zeroes the table. It must not race with a running search.
func (tt *TranspositionTable) Clear() {
	for i := range tt.clusters {
		for j := range tt.clusters[i].slots {
			tt.clusters[i].slots[j].key.Store(0)
			tt.clusters[i].slots[j].data.Store(0)
		}
	}
	tt.generation.Store(0)
}

// Probe looks key up. On a hit it refreshes the entry's generation and
// returns the entry together with its slot. On a miss it returns the slot
// that Save should overwrite: an empty one, or else the one with the lowest
// depth after an eight plies per generation age penalty.
func (tt *TranspositionTable) Probe(key uint64) (TTEntry, bool, *TTSlot) {
	c := &tt.clusters[key&tt.mask]
	g := tt.gen()

	for i := range c.slots {
		s := &c.slots[i]
		data := s.data.Load()
		if data == 0 && s.key.Load() == 0 {
			return TTEntry{}, false, s
		}
		if s.key.Load()^data != key {
			continue
		}
		e := unpack(data)
		if e.gen != g {
			data = data&^(0xFC<<56) | uint64(g)<<56
			s.data.Store(data)
			s.key.Store(key ^ data)
			e.gen = g
		}
		return e, true, s
	}

	replace := &c.slots[0]
	worth := slotWorth(replace.data.Load(), g)
	for i := 1; i < clusterSize; i++ {
		if w := slotWorth(c.slots[i].data.Load(), g); w < worth {
			replace, worth = &c.slots[i], w
		}
	}
	return TTEntry{}, false, replace
}

func slotWorth(data uint64, g uint8) int {
	depth8 := int(uint8(data >> 48))
	age := int((259 + int(g) - int(uint8(data>>56))) & 0xFC)
	return depth8 - age*2
}

// Save writes an entry into slot. An existing move is kept when move is
// NoMove and the slot already describes key. A deeper entry for the same
// key survives unless the new bound is exact.
func (tt *TranspositionTable) Save(s *TTSlot, key uint64, value Value, bound Bound, depth Depth, move board.Move, eval Value) {
	oldData := s.data.Load()
	sameKey := s.key.Load()^oldData == key && oldData != 0
	old := unpack(oldData)

	if move == board.NoMove && sameKey {
		move = old.Move
	}
	data := pack(move, value, eval, depth, tt.gen()|uint8(bound))
	if sameKey && depth <= old.Depth-4 && bound != BoundExact {
		if move == old.Move {
			return
		}
		data = pack(move, old.Value, old.Eval, old.Depth, old.gen|uint8(old.Bound))
	}
	s.data.Store(data)
	s.key.Store(key ^ data)
}

// HashFull returns the permille of sampled entries written during the
// current search.
func (tt *TranspositionTable) HashFull() int {
	n := min(1000, len(tt.clusters))
	if n == 0 {
		return 0
	}
	g := tt.gen()
	used := 0
	for i := 0; i < n; i++ {
		for j := range tt.clusters[i].slots {
			data := tt.clusters[i].slots[j].data.Load()
			if data != 0 && uint8(data>>56)&0xFC == g {
				used++
			}
		}
	}
	return used * 1000 / (n * clusterSize)
}

// TTSnapshot is a raw copy of the table, two words per slot.
type TTSnapshot struct {
	Generation uint8
	Clusters   int
	Words      []uint64
}

// ErrSnapshotSize is returned by Restore when the snapshot was taken from
// a table of a different size.
var ErrSnapshotSize = errors.New("engine: snapshot size does not match table")

// Snapshot copies the table. Entries written concurrently may be torn;
// they fail validation after Restore like any other torn read.
func (tt *TranspositionTable) Snapshot() TTSnapshot {
	words := make([]uint64, 0, len(tt.clusters)*clusterSize*2)
	for i := range tt.clusters {
		for j := range tt.clusters[i].slots {
			s := &tt.clusters[i].slots[j]
			words = append(words, s.key.Load(), s.data.Load())
		}
	}
	return TTSnapshot{Generation: tt.gen(), Clusters: len(tt.clusters), Words: words}
}

// Restore loads a snapshot taken from a table of the same size.
func (tt *TranspositionTable) Restore(snap TTSnapshot) error {
	if snap.Clusters != len(tt.clusters) || len(snap.Words) != snap.Clusters*clusterSize*2 {
		return ErrSnapshotSize
	}
	w := 0
	for i := range tt.clusters {
		for j := range tt.clusters[i].slots {
			s := &tt.clusters[i].slots[j]
			s.key.Store(snap.Words[w])
			s.data.Store(snap.Words[w+1])
			w += 2
		}
	}
	tt.generation.Store(uint32(snap.Generation))
	return nil
}

// excludedKey perturbs a position key so that a search with move excluded
// never shares entries with the unrestricted search.
func excludedKey(key uint64, move board.Move) uint64 {
	if move == board.NoMove {
		return key
	}
	return key ^ uint64(move)*0x9E3779B97F4A7C15
}
