package engine

import (
	"github.com/hailam/chesssearch/internal/board"
)

type pickStage uint8

const (
	stageMainTT pickStage = iota
	stageCaptureInit
	stageGoodCaptures
	stageKiller0
	stageKiller1
	stageCounterMove
	stageQuietInit
	stageQuiets
	stageBadCaptures

	stageEvasionTT
	stageEvasionInit
	stageAllEvasions

	stageQSearchTT
	stageQCaptureInit
	stageQCaptures
	stageQChecksInit
	stageQChecks

	stageQSearchNoChecksTT
	stageQNoChecksInit
	stageQCapturesNoChecks

	stageProbCutTT
	stageProbCutInit
	stageProbCutCaptures

	stageRecaptureInit
	stageRecaptures

	stageDone
)

// evasionCaptureBonus lifts every capturing evasion above any history score.
const evasionCaptureBonus = 1 << 28

type scoredMove struct {
	move  board.Move
	score int
}

// movePicker yields pseudo-legal moves one at a time, best first, and
// generates each batch only when the previous one is exhausted. No move is
// yielded twice.
type movePicker struct {
	pos  *board.Position
	hist *Histories

	stage          pickStage
	ttMove         board.Move
	killers        [2]board.Move
	counterMove    board.Move
	depth          Depth
	threshold      Value
	recaptureSq    board.Square
	cmh, fmh, fmh2 *ContinuationHistory

	moves            [board.MaxMoves]scoredMove
	cur, end, endBad int
	gen              board.MoveList
}

// initMain prepares a picker for an interior node. In check it switches to
// evasions.
func (mp *movePicker) initMain(pos *board.Position, hist *Histories, ttMove board.Move, depth Depth, st, prev, prev2, prev4 *frame) {
	*mp = movePicker{pos: pos, hist: hist, depth: depth}
	mp.killers = st.killers
	mp.cmh, mp.fmh, mp.fmh2 = prev.counterMoves, prev2.counterMoves, prev4.counterMoves
	if prev.currentMove.IsOK() {
		prevSq := prev.currentMove.To()
		mp.counterMove = hist.CounterMoves.Get(pos.PieceAt(prevSq), prevSq)
	}

	mp.stage = stageMainTT
	if pos.InCheck() {
		mp.stage = stageEvasionTT
	}
	mp.setTT(ttMove)
}

// initQSearch prepares a picker for the leaf search. Below
// DepthQSRecaptures only recaptures on recaptureSq are produced.
func (mp *movePicker) initQSearch(pos *board.Position, hist *Histories, ttMove board.Move, depth Depth, recaptureSq board.Square) {
	*mp = movePicker{pos: pos, hist: hist, depth: depth}
	switch {
	case pos.InCheck():
		mp.stage = stageEvasionTT
	case depth > DepthQSNoChecks:
		mp.stage = stageQSearchTT
	case depth > DepthQSRecaptures:
		mp.stage = stageQSearchNoChecksTT
	default:
		mp.stage = stageRecaptureInit
		mp.recaptureSq = recaptureSq
		ttMove = board.NoMove
	}
	mp.setTT(ttMove)
}

// initProbCut prepares a picker for captures whose exchange clears
// threshold.
func (mp *movePicker) initProbCut(pos *board.Position, hist *Histories, ttMove board.Move, threshold Value) {
	*mp = movePicker{pos: pos, hist: hist, threshold: threshold}
	mp.stage = stageProbCutTT
	if ttMove != board.NoMove && !(pos.IsPseudoLegal(ttMove) && pos.IsCapture(ttMove) && SeeGE(pos, ttMove, threshold+1)) {
		ttMove = board.NoMove
	}
	mp.setTT(ttMove)
}

// setTT keeps ttMove only if it is playable here. Without one the TT
// stage is skipped.
func (mp *movePicker) setTT(ttMove board.Move) {
	if ttMove != board.NoMove && mp.pos.IsPseudoLegal(ttMove) {
		mp.ttMove = ttMove
		return
	}
	if mp.stage != stageRecaptureInit {
		mp.stage++
	}
}

// loadCaptures generates captures and promotions into moves[from:].
func (mp *movePicker) loadCaptures(from int) {
	mp.gen.Clear()
	mp.pos.GenerateCaptures(&mp.gen)
	mp.load(from)
	for i := mp.cur; i < mp.end; i++ {
		m := mp.moves[i].move
		victim := ValueZero
		if pc := mp.pos.PieceAt(m.To()); pc != board.NoPiece {
			victim = PieceValueMg[pc.Type()]
		}
		mp.moves[i].score = int(victim) - 200*m.To().RelativeRank(mp.pos.SideToMove)
	}
}

func (mp *movePicker) load(from int) {
	mp.cur = from
	mp.end = from
	for _, m := range mp.gen.Slice() {
		mp.moves[mp.end] = scoredMove{move: m}
		mp.end++
	}
}

func (mp *movePicker) scoreQuiets() {
	pos, h := mp.pos, mp.hist
	us := pos.SideToMove
	for i := mp.cur; i < mp.end; i++ {
		m := mp.moves[i].move
		pc, to := pos.MovedPiece(m), m.To()
		s := h.History.Get(pc, to) + h.FromTo.Get(us, m)
		if mp.cmh != nil {
			s += mp.cmh.Get(pc, to)
		}
		if mp.fmh != nil {
			s += mp.fmh.Get(pc, to)
		}
		if mp.fmh2 != nil {
			s += mp.fmh2.Get(pc, to)
		}
		mp.moves[i].score = int(s)
	}
}

func (mp *movePicker) scoreEvasions() {
	pos, h := mp.pos, mp.hist
	us := pos.SideToMove
	for i := mp.cur; i < mp.end; i++ {
		m := mp.moves[i].move
		if pos.IsCapture(m) {
			victim := PieceValueMg[board.Pawn]
			if pc := pos.PieceAt(m.To()); pc != board.NoPiece {
				victim = PieceValueMg[pc.Type()]
			}
			mp.moves[i].score = int(victim) - int(pos.MovedPiece(m).Type()) + evasionCaptureBonus
		} else {
			mp.moves[i].score = int(h.History.Get(pos.MovedPiece(m), m.To()) + h.FromTo.Get(us, m))
		}
	}
}

// pickBest swaps the best remaining move to cur and returns it.
func (mp *movePicker) pickBest() board.Move {
	best := mp.cur
	for i := mp.cur + 1; i < mp.end; i++ {
		if mp.moves[i].score > mp.moves[best].score {
			best = i
		}
	}
	mp.moves[mp.cur], mp.moves[best] = mp.moves[best], mp.moves[mp.cur]
	m := mp.moves[mp.cur].move
	mp.cur++
	return m
}

// insertionSort orders moves[lo:hi] by descending score, keeping the
// generation order of equal scores.
func (mp *movePicker) insertionSort(lo, hi int) {
	for i := lo + 1; i < hi; i++ {
		tmp := mp.moves[i]
		j := i
		for ; j > lo && mp.moves[j-1].score < tmp.score; j-- {
			mp.moves[j] = mp.moves[j-1]
		}
		mp.moves[j] = tmp
	}
}

// partitionPositive moves entries with a positive score to the front of
// moves[lo:hi] and returns the end of that group.
func (mp *movePicker) partitionPositive(lo, hi int) int {
	p := lo
	for i := lo; i < hi; i++ {
		if mp.moves[i].score > 0 {
			mp.moves[p], mp.moves[i] = mp.moves[i], mp.moves[p]
			p++
		}
	}
	return p
}

func (mp *movePicker) isQuietCandidate(m board.Move) bool {
	return m != board.NoMove && m != mp.ttMove &&
		mp.pos.IsPseudoLegal(m) && !mp.pos.IsCaptureOrPromotion(m)
}

// next returns the next move or board.NoMove when exhausted.
func (mp *movePicker) next() board.Move {
	for {
		switch mp.stage {
		case stageMainTT, stageEvasionTT, stageQSearchTT, stageQSearchNoChecksTT, stageProbCutTT:
			mp.stage++
			return mp.ttMove

		case stageCaptureInit:
			mp.endBad = 0
			mp.loadCaptures(0)
			mp.stage++

		case stageGoodCaptures:
			for mp.cur < mp.end {
				m := mp.pickBest()
				if m == mp.ttMove {
					continue
				}
				if SeeGE(mp.pos, m, ValueZero) {
					return m
				}
				// Losing captures wait at the front of the array.
				mp.moves[mp.endBad].move = m
				mp.endBad++
			}
			mp.stage++

		case stageKiller0:
			mp.stage++
			if m := mp.killers[0]; mp.isQuietCandidate(m) {
				return m
			}

		case stageKiller1:
			mp.stage++
			if m := mp.killers[1]; m != mp.killers[0] && mp.isQuietCandidate(m) {
				return m
			}

		case stageCounterMove:
			mp.stage++
			m := mp.counterMove
			if m != mp.killers[0] && m != mp.killers[1] && mp.isQuietCandidate(m) {
				return m
			}

		case stageQuietInit:
			mp.gen.Clear()
			mp.pos.GenerateQuiets(&mp.gen)
			mp.load(mp.endBad)
			mp.scoreQuiets()
			if mp.depth < 3*OnePly {
				good := mp.partitionPositive(mp.cur, mp.end)
				mp.insertionSort(mp.cur, good)
			} else {
				mp.insertionSort(mp.cur, mp.end)
			}
			mp.stage++

		case stageQuiets:
			for mp.cur < mp.end {
				m := mp.moves[mp.cur].move
				mp.cur++
				if m != mp.ttMove && m != mp.killers[0] && m != mp.killers[1] && m != mp.counterMove {
					return m
				}
			}
			mp.stage++
			mp.cur = 0

		case stageBadCaptures:
			if mp.cur < mp.endBad {
				m := mp.moves[mp.cur].move
				mp.cur++
				return m
			}
			mp.stage = stageDone

		case stageEvasionInit:
			mp.gen.Clear()
			mp.pos.GenerateEvasions(&mp.gen)
			mp.load(0)
			mp.scoreEvasions()
			mp.stage++

		case stageAllEvasions:
			for mp.cur < mp.end {
				if m := mp.pickBest(); m != mp.ttMove {
					return m
				}
			}
			mp.stage = stageDone

		case stageQCaptureInit, stageQNoChecksInit, stageProbCutInit, stageRecaptureInit:
			mp.loadCaptures(0)
			mp.stage++

		case stageQCaptures, stageQCapturesNoChecks:
			for mp.cur < mp.end {
				if m := mp.pickBest(); m != mp.ttMove {
					return m
				}
			}
			if mp.stage == stageQCapturesNoChecks {
				mp.stage = stageDone
			} else {
				mp.stage++
			}

		case stageQChecksInit:
			mp.gen.Clear()
			mp.pos.GenerateQuietChecks(&mp.gen)
			mp.load(0)
			mp.stage++

		case stageQChecks:
			for mp.cur < mp.end {
				m := mp.moves[mp.cur].move
				mp.cur++
				if m != mp.ttMove {
					return m
				}
			}
			mp.stage = stageDone

		case stageProbCutCaptures:
			for mp.cur < mp.end {
				if m := mp.pickBest(); m != mp.ttMove && SeeGE(mp.pos, m, mp.threshold+1) {
					return m
				}
			}
			mp.stage = stageDone

		case stageRecaptures:
			for mp.cur < mp.end {
				if m := mp.pickBest(); m.To() == mp.recaptureSq {
					return m
				}
			}
			mp.stage = stageDone

		default:
			return board.NoMove
		}
	}
}
