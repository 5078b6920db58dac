package engine

import (
	"math"

	"github.com/hailam/chesssearch/internal/board"
)

type nodeType uint8

const (
	nonPVNode nodeType = iota
	pvNode
)

// Razoring margins, indexed by depth.
var razorMargin = [4]Value{483, 570, 603, 554}

var (
	// futilityMoveCounts[improving][depth] is the move count after which
	// quiet moves are pruned.
	futilityMoveCounts [2][16]int

	// reductions[nodeType][improving][depth][moveCount] in plies.
	reductions [2][2][64][64]Depth
)

func init() {
	for imp := 0; imp <= 1; imp++ {
		for d := 1; d < 64; d++ {
			for mc := 1; mc < 64; mc++ {
				r := math.Log(float64(d)) * math.Log(float64(mc)) / 2
				if r < 0.80 {
					continue
				}
				nonPV := Depth(math.Round(r))
				reductions[pvNode][imp][d][mc] = max(nonPV-1, 0)
				if imp == 0 && nonPV >= 2 {
					nonPV++
				}
				reductions[nonPVNode][imp][d][mc] = nonPV
			}
		}
	}

	for d := 0; d < 16; d++ {
		futilityMoveCounts[0][d] = int(2.4 + 0.773*math.Pow(float64(d), 1.8))
		futilityMoveCounts[1][d] = int(2.9 + 1.045*math.Pow(float64(d)+0.49, 1.8))
	}
}

func reduction(nt nodeType, improving bool, depth Depth, moveCount int) Depth {
	imp := 0
	if improving {
		imp = 1
	}
	return reductions[nt][imp][min(depth, 63)][min(moveCount, 63)]
}

func statBonus(d Depth) Value {
	v := Value(d)
	return v*v + 2*v - 2
}

func refutationPenalty(d Depth) Value {
	v := Value(d)
	return v*v + 4*v + 1
}

// search is the principal variation / scout search. A pvNode searches the
// open window (alpha, beta); a nonPVNode is always called with
// beta == alpha+1. sp indexes the frame of this node in the worker's
// stack. The returned value is fail-soft. After a stop has been observed
// the value is meaningless and nothing is written to the shared tables.
func (w *Worker) search(nt nodeType, sp int, alpha, beta Value, depth Depth, cutNode bool) Value {
	isPV := nt == pvNode
	st, prev := &w.stack[sp], &w.stack[sp-1]
	rootNode := isPV && prev.ply == 0

	debugAssert(-ValueInfinite <= alpha && alpha < beta && beta <= ValueInfinite, "search: window out of range")
	debugAssert(isPV || alpha == beta-1, "search: non-PV window is not null")
	debugAssert(depth > 0 && depth < MaxPly, "search: depth out of range")
	debugAssert(!(isPV && cutNode), "search: PV node marked as cut node")

	e, pos := w.engine, w.pos
	inCheck := pos.InCheck()
	st.moveCount = 0
	st.ply = prev.ply + 1

	// Step 1. Initialize node
	w.pollTime()
	if isPV {
		st.pv = st.pvBuf[:0]
		w.selDepth = max(w.selDepth, st.ply)
	}

	if !rootNode {
		// Step 2. Aborted search and immediate draw
		if e.stop.Load() || w.isDraw(st.ply) || st.ply >= MaxPly {
			if st.ply >= MaxPly && !inCheck {
				return w.evaluate()
			}
			return e.drawValue[pos.SideToMove]
		}

		// Step 3. Mate distance pruning
		if isPV {
			alpha = max(MatedIn(st.ply), alpha)
			beta = min(MateIn(st.ply+1), beta)
			if alpha >= beta {
				return alpha
			}
		} else {
			if alpha < MatedIn(st.ply) {
				return MatedIn(st.ply)
			}
			if alpha >= MateIn(st.ply+1) {
				return alpha
			}
		}
	}

	next := &w.stack[sp+1]
	st.currentMove = board.NoMove
	st.counterMoves = nil
	next.excludedMove = board.NoMove
	next.skipEarlyPruning = false
	w.stack[sp+2].killers = [2]board.Move{}

	// Step 4. Transposition table lookup. An excluded move gets its own key
	// so the partial search never overwrites the full one.
	excluded := st.excludedMove
	posKey := excludedKey(pos.Hash, excluded)
	tte, ttHit, slot := e.tt.Probe(posKey)
	ttValue := ValueNone
	ttMove := board.NoMove
	if ttHit {
		ttValue = valueFromTT(tte.Value, st.ply)
		if pos.IsPseudoLegal(tte.Move) {
			ttMove = tte.Move
		}
	}
	if rootNode {
		ttMove = w.rootMoves[w.pvIdx].PV[0]
	}

	if !isPV && ttHit && tte.Depth >= depth && ttValue != ValueNone &&
		tte.Bound&boundFor(ttValue >= beta) != 0 {
		st.currentMove = ttMove

		if ttValue >= beta && ttMove != board.NoMove {
			if !pos.IsCaptureOrPromotion(ttMove) {
				w.updateStats(sp, ttMove, nil, statBonus(depth))
			}
			if prev.moveCount == 1 && prev.captured == board.NoPiece {
				w.penalizePrevious(sp, refutationPenalty(depth))
			}
		}
		return ttValue
	}

	// Step 4a. Tablebase probe
	if !rootNode && w.canProbe(depth) {
		if wdl, found := w.probeWDL(); found {
			v := wdlToValue(wdl, st.ply, e.tb.useRule50)
			e.tt.Save(slot, posKey, valueToTT(v, st.ply), BoundExact,
				min(MaxPly-1, depth+6), board.NoMove, ValueNone)
			return v
		}
	}

	ns := moveLoopState{
		inCheck:  inCheck,
		posKey:   posKey,
		slot:     slot,
		tte:      tte,
		ttHit:    ttHit,
		ttMove:   ttMove,
		ttValue:  ttValue,
		excluded: excluded,
	}

	// Step 5. Static evaluation
	if inCheck {
		st.staticEval = ValueNone
		return w.searchMoves(nt, sp, alpha, beta, depth, cutNode, ns)
	}
	var eval Value
	if ttHit {
		eval = tte.Eval
		if eval == ValueNone {
			eval = w.evaluate()
		}
		st.staticEval = eval
		if ttValue != ValueNone && tte.Bound&boundFor(ttValue > eval) != 0 {
			eval = ttValue
		}
	} else {
		if prev.currentMove == board.NullMove {
			eval = -prev.staticEval + 2*Tempo
		} else {
			eval = w.evaluate()
		}
		st.staticEval = eval
		if e.stop.Load() {
			return ValueZero
		}
		e.tt.Save(slot, posKey, ValueNone, BoundNone, DepthNone, board.NoMove, st.staticEval)
	}

	if st.skipEarlyPruning {
		return w.searchMoves(nt, sp, alpha, beta, depth, cutNode, ns)
	}

	if v, ok := w.prune(nt, sp, alpha, beta, depth, cutNode, eval, ttMove); ok {
		return v
	}

	// Step 10. Internal iterative deepening
	if depth >= 6 && ttMove == board.NoMove && (isPV || st.staticEval+256 >= beta) {
		st.skipEarlyPruning = true
		w.search(nt, sp, alpha, beta, 3*depth/4-2, cutNode)
		st.skipEarlyPruning = false
		if isPV {
			st.pv = st.pvBuf[:0]
		}
		if e.stop.Load() {
			return ValueZero
		}

		ns.tte, ns.ttHit, ns.slot = e.tt.Probe(posKey)
		ns.ttMove = board.NoMove
		if ns.ttHit && pos.IsPseudoLegal(ns.tte.Move) {
			ns.ttMove = ns.tte.Move
		}
	}

	return w.searchMoves(nt, sp, alpha, beta, depth, cutNode, ns)
}

// boundFor returns the bound that makes a stored value usable: a lower
// bound when the value is at or above the threshold, an upper bound
// otherwise.
func boundFor(above bool) Bound {
	if above {
		return BoundLower
	}
	return BoundUpper
}

// prune runs the whole-node pruning steps: razoring, futility, null move
// and ProbCut. It reports true when the node is settled with the returned
// value.
func (w *Worker) prune(nt nodeType, sp int, alpha, beta Value, depth Depth, cutNode bool, eval Value, ttMove board.Move) (Value, bool) {
	isPV := nt == pvNode
	e, pos := w.engine, w.pos
	st, prev := &w.stack[sp], &w.stack[sp-1]
	rootNode := isPV && prev.ply == 0

	// Step 6. Razoring
	if !isPV && depth < 4 && ttMove == board.NoMove && eval+razorMargin[depth] <= alpha {
		if depth <= 1 && eval+razorMargin[3] <= alpha {
			return w.qsearch(nonPVNode, false, sp, alpha, alpha+1, 0), true
		}
		ralpha := alpha - razorMargin[depth]
		if v := w.qsearch(nonPVNode, false, sp, ralpha, ralpha+1, 0); v <= ralpha {
			return v, true
		}
	}

	// Step 7. Futility pruning: child node
	if !rootNode && depth < 7 && eval-150*Value(depth) >= beta && eval < ValueKnownWin &&
		pos.HasNonPawnMaterial() {
		return eval - 150*Value(depth), true
	}

	// Step 8. Null move search with verification
	if !isPV && eval >= beta &&
		(st.staticEval >= beta-35*Value(depth-6) || depth >= 13) &&
		pos.HasNonPawnMaterial() {

		st.currentMove = board.NullMove
		st.counterMoves = nil

		r := Depth((823+67*int(depth))/256) + Depth(min(int((eval-beta)/PawnValueMg), 3))

		w.doNullMove(sp)
		w.stack[sp+1].skipEarlyPruning = true
		var nullValue Value
		if depth-r < 1 {
			nullValue = -w.qsearch(nonPVNode, false, sp+1, -beta, -beta+1, 0)
		} else {
			nullValue = -w.search(nonPVNode, sp+1, -beta, -beta+1, depth-r, !cutNode)
		}
		w.stack[sp+1].skipEarlyPruning = false
		w.undoNullMove(sp)

		if nullValue >= beta {
			// Do not return unproven mate scores.
			if nullValue >= ValueMateInMaxPly {
				nullValue = beta
			}
			if depth < 12 && abs(beta) < ValueKnownWin {
				return nullValue, true
			}

			st.skipEarlyPruning = true
			var v Value
			if depth-r < 1 {
				v = w.qsearch(nonPVNode, false, sp, beta-1, beta, 0)
			} else {
				v = w.search(nonPVNode, sp, beta-1, beta, depth-r, false)
			}
			st.skipEarlyPruning = false
			if v >= beta {
				return nullValue, true
			}
		}
	}

	// Step 9. ProbCut
	if !isPV && depth >= 5 && abs(beta) < ValueMateInMaxPly {
		rbeta := min(beta+200, ValueInfinite)
		rdepth := depth - 4

		debugAssert(prev.currentMove != board.NoMove, "probcut: no previous move")

		var mp movePicker
		mp.initProbCut(pos, e.hist, ttMove, rbeta-st.staticEval)
		for m := mp.next(); m != board.NoMove; m = mp.next() {
			if !pos.IsLegal(m) {
				continue
			}
			st.currentMove = m
			st.counterMoves = e.hist.Continuation(pos.MovedPiece(m), m.To())
			w.doMove(sp, m)
			v := -w.search(nonPVNode, sp+1, -rbeta, -rbeta+1, rdepth, !cutNode)
			w.undoMove(sp, m)
			if v >= rbeta {
				return v, true
			}
		}
	}

	return ValueZero, false
}

// moveLoopState carries the node's table data into the move loop.
type moveLoopState struct {
	inCheck  bool
	posKey   uint64
	slot     *TTSlot
	tte      TTEntry
	ttHit    bool
	ttMove   board.Move
	ttValue  Value
	excluded board.Move
}

// searchMoves runs steps 11 to 20: the loop over the moves of the node,
// the mate and stalemate check and the statistics and table updates.
func (w *Worker) searchMoves(nt nodeType, sp int, alpha, beta Value, depth Depth, cutNode bool, ns moveLoopState) Value {
	isPV := nt == pvNode
	e, pos, hist := w.engine, w.pos, w.engine.hist
	st, prev, next := &w.stack[sp], &w.stack[sp-1], &w.stack[sp+1]
	rootNode := isPV && prev.ply == 0
	inCheck := ns.inCheck
	ttMove := ns.ttMove

	cmh, fmh, fmh2 := prev.counterMoves, w.stack[sp-2].counterMoves, w.stack[sp-4].counterMoves

	var mp movePicker
	mp.initMain(pos, hist, ttMove, depth, st, prev, &w.stack[sp-2], &w.stack[sp-4])

	prev2Eval := w.stack[sp-2].staticEval
	improving := st.staticEval >= prev2Eval || prev2Eval == ValueNone

	singularNode := !rootNode && depth >= 8 && ttMove != board.NoMove &&
		abs(ns.ttValue) < ValueKnownWin && ns.excluded == board.NoMove &&
		ns.tte.Bound&BoundLower != 0 && ns.tte.Depth >= depth-3

	var quiets [64]board.Move
	bestValue := -ValueInfinite
	bestMove := board.NoMove
	moveCount, quietCount := 0, 0
	value := bestValue

	// Step 11. Loop through moves
	for m := mp.next(); m != board.NoMove; m = mp.next() {
		if m == ns.excluded {
			continue
		}
		// At the root only moves of the current MultiPV slice are searched.
		if rootNode && w.rootMoves.indexFrom(w.pvIdx, m) < 0 {
			continue
		}

		moveCount++
		st.moveCount = moveCount

		if rootNode && w.isMain() && w.elapsed() > currMoveDelay {
			e.emitCurrMove(int(depth), m, moveCount+w.pvIdx)
		}

		if isPV {
			next.pv = nil
		}

		extension := Depth(0)
		captureOrPromotion := pos.IsCaptureOrPromotion(m)
		moved := pos.MovedPiece(m)
		givesCheck := pos.GivesCheck(m)
		moveCountPruning := depth < 16 && moveCount >= futilityMoveCounts[boolIndex(improving)][depth]

		// Step 12. Extend checks
		if givesCheck && !moveCountPruning && SeeGE(pos, m, ValueZero) {
			extension = OnePly
		}

		// Singular extension: if every other move fails low against a
		// reduced bound, the TT move is extended.
		if singularNode && m == ttMove && extension == 0 && pos.IsLegal(m) {
			rBeta := ns.ttValue - 2*Value(depth)
			d := depth / 2
			st.excludedMove = m
			st.skipEarlyPruning = true
			value = w.search(nonPVNode, sp, rBeta-1, rBeta, d, cutNode)
			st.skipEarlyPruning = false
			st.excludedMove = board.NoMove
			if value < rBeta {
				extension = OnePly
			}
		}

		newDepth := depth - OnePly + extension

		// Step 13. Pruning at shallow depth
		if !rootNode && !inCheck && bestValue > ValueMatedInMaxPly {
			if !captureOrPromotion && !givesCheck && !pos.AdvancedPawnPush(m) {
				if moveCountPruning {
					continue
				}

				lmrDepth := max(newDepth-reduction(nt, improving, depth, moveCount), 0)

				// Continuation history
				if lmrDepth < 3 &&
					(cmh == nil || cmh.Get(moved, m.To()) < 0) &&
					(fmh == nil || fmh.Get(moved, m.To()) < 0) &&
					(fmh2 == nil || fmh2.Get(moved, m.To()) < 0 || (cmh != nil && fmh != nil)) {
					continue
				}

				// Futility: parent node
				if lmrDepth < 7 && st.staticEval+256+200*Value(lmrDepth) <= alpha {
					continue
				}

				if lmrDepth < 8 && !SeeGE(pos, m, -35*Value(lmrDepth*lmrDepth)) {
					continue
				}
			} else if depth < 7 && !SeeGE(pos, m, -35*Value(depth*depth)) {
				continue
			}
		}

		if !rootNode && !pos.IsLegal(m) {
			moveCount--
			st.moveCount = moveCount
			continue
		}

		st.currentMove = m
		st.counterMoves = hist.Continuation(moved, m.To())

		// Step 14. Make the move
		w.doMove(sp, m)

		// Step 15. Reduced depth search
		doFullDepthSearch := false
		if depth >= 3 && moveCount > 1 && (!captureOrPromotion || moveCountPruning) {
			r := reduction(nt, improving, depth, moveCount)
			if captureOrPromotion {
				if r > 0 {
					r--
				}
			} else {
				if cutNode {
					r += 2
				} else if m.Flag() == board.FlagNormal &&
					pos.PieceAt(m.To()).Type() != board.Pawn &&
					!SeeGE(pos, board.NewMove(m.To(), m.From()), ValueZero) {
					// The move escapes a capture.
					r -= 2
				}

				val := hist.History.Get(moved, m.To()) +
					hist.FromTo.Get(pos.SideToMove.Other(), m)
				for _, c := range [...]*ContinuationHistory{cmh, fmh, fmh2} {
					if c != nil {
						val += c.Get(moved, m.To())
					}
				}
				rHist := Depth((val - 8000) / 20000)
				r = max(0, r-rHist)
			}

			d := max(newDepth-r, OnePly)
			value = -w.search(nonPVNode, sp+1, -(alpha + 1), -alpha, d, true)
			doFullDepthSearch = value > alpha && d != newDepth
		} else {
			doFullDepthSearch = !isPV || moveCount > 1
		}

		// Step 16. Full depth search
		if doFullDepthSearch {
			if newDepth < OnePly {
				value = -w.qsearch(nonPVNode, givesCheck, sp+1, -(alpha + 1), -alpha, 0)
			} else {
				value = -w.search(nonPVNode, sp+1, -(alpha + 1), -alpha, newDepth, !cutNode)
			}
		}

		// The first move and any fail high inside the window get a full
		// window search at PV nodes.
		if isPV && (moveCount == 1 || (value > alpha && (rootNode || value < beta))) {
			next.pv = next.pvBuf[:0]
			if newDepth < OnePly {
				value = -w.qsearch(pvNode, givesCheck, sp+1, -beta, -alpha, 0)
			} else {
				value = -w.search(pvNode, sp+1, -beta, -alpha, newDepth, false)
			}
		}

		// Step 17. Undo move
		w.undoMove(sp, m)

		debugAssert(value > -ValueInfinite && value < ValueInfinite, "search: value out of range")

		// Step 18. New best move. After a stop the value cannot be trusted.
		if e.stop.Load() {
			return ValueZero
		}

		if rootNode {
			rm := w.rootMoves.find(m)
			if moveCount == 1 || value > alpha {
				rm.Score = value
				rm.SelDepth = w.selDepth
				rm.setLine(m, next.pv)
				if moveCount > 1 && w.isMain() {
					w.bestMoveChanges++
				}
			} else {
				// Only the PV is moved up by the stable sort.
				rm.Score = -ValueInfinite
			}
		}

		if value > bestValue {
			bestValue = value
			if value > alpha {
				bestMove = m
				if isPV && !rootNode {
					st.updatePV(m, next.pv)
				}
				if isPV && value < beta {
					alpha = value
				} else {
					debugAssert(value >= beta, "search: fail high below beta")
					break
				}
			}
		}

		if !captureOrPromotion && m != bestMove && quietCount < len(quiets) {
			quiets[quietCount] = m
			quietCount++
		}
	}

	// Every move may have been pruned after a stop in a reduced search.
	if e.stop.Load() {
		return ValueZero
	}

	// Step 20. Mate and stalemate
	d := depth
	switch {
	case moveCount == 0:
		switch {
		case ns.excluded != board.NoMove:
			bestValue = alpha
		case inCheck:
			bestValue = MatedIn(st.ply)
		default:
			bestValue = e.drawValue[pos.SideToMove]
		}

	case bestMove != board.NoMove:
		if !pos.IsCaptureOrPromotion(bestMove) {
			w.updateStats(sp, bestMove, quiets[:quietCount], statBonus(d))
		}
		// The quiet TT move of the previous ply got refuted.
		if prev.moveCount == 1 && prev.captured == board.NoPiece {
			w.penalizePrevious(sp, refutationPenalty(d))
		}

	case depth >= 3 && prev.captured == board.NoPiece && prev.currentMove.IsOK():
		// The previous quiet move caused this fail low.
		w.penalizePrevious(sp, -statBonus(d))
	}

	bound := BoundUpper
	if bestValue >= beta {
		bound = BoundLower
	} else if isPV && bestMove != board.NoMove {
		bound = BoundExact
	}
	e.tt.Save(ns.slot, ns.posKey, valueToTT(bestValue, st.ply), bound, depth, bestMove, st.staticEval)

	debugAssert(bestValue > -ValueInfinite && bestValue < ValueInfinite, "search: result out of range")
	return bestValue
}

func boolIndex(b bool) int {
	if b {
		return 1
	}
	return 0
}
