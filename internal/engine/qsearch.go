package engine

import "github.com/hailam/chesssearch/internal/board"

// qsearch is the leaf search, called with depth <= 0. It searches
// captures, queen promotions and, at the first leaf ply, quiet checks;
// in check it searches all evasions. inCheck must match the position.
func (w *Worker) qsearch(nt nodeType, inCheck bool, sp int, alpha, beta Value, depth Depth) Value {
	isPV := nt == pvNode
	st, prev, next := &w.stack[sp], &w.stack[sp-1], &w.stack[sp+1]
	e, pos := w.engine, w.pos

	debugAssert(inCheck == pos.InCheck(), "qsearch: inCheck does not match position")
	debugAssert(-ValueInfinite <= alpha && alpha < beta && beta <= ValueInfinite, "qsearch: window out of range")
	debugAssert(isPV || alpha == beta-1, "qsearch: non-PV window is not null")
	debugAssert(depth <= 0, "qsearch: positive depth")

	if isPV {
		st.pv = st.pvBuf[:0]
	}
	// After a stop the value is discarded and nothing is stored.
	if e.stop.Load() {
		return ValueZero
	}

	oldAlpha := alpha
	st.currentMove = board.NoMove
	st.ply = prev.ply + 1
	bestMove := board.NoMove

	if w.isDraw(st.ply) || st.ply >= MaxPly {
		if st.ply >= MaxPly && !inCheck {
			return w.evaluate()
		}
		return e.drawValue[pos.SideToMove]
	}

	// Entries are stored at one of two depths: with or without checks.
	ttDepth := DepthQSNoChecks
	if inCheck || depth >= DepthQSChecks {
		ttDepth = DepthQSChecks
	}

	posKey := pos.Hash
	tte, ttHit, slot := e.tt.Probe(posKey)
	ttValue := ValueNone
	ttMove := board.NoMove
	if ttHit {
		ttValue = valueFromTT(tte.Value, st.ply)
		if pos.IsPseudoLegal(tte.Move) {
			ttMove = tte.Move
		}
	}

	if !isPV && ttHit && tte.Depth >= ttDepth && ttValue != ValueNone &&
		tte.Bound&boundFor(ttValue >= beta) != 0 {
		st.currentMove = ttMove
		return ttValue
	}

	// Stand pat
	var bestValue, futilityBase Value
	if inCheck {
		st.staticEval = ValueNone
		bestValue = -ValueInfinite
		futilityBase = -ValueInfinite
	} else {
		if ttHit {
			st.staticEval = tte.Eval
			if st.staticEval == ValueNone {
				st.staticEval = w.evaluate()
			}
			bestValue = st.staticEval
			if ttValue != ValueNone && tte.Bound&boundFor(ttValue > bestValue) != 0 {
				bestValue = ttValue
			}
		} else {
			if prev.currentMove == board.NullMove {
				st.staticEval = -prev.staticEval + 2*Tempo
			} else {
				st.staticEval = w.evaluate()
			}
			bestValue = st.staticEval
		}

		if e.stop.Load() {
			return ValueZero
		}
		if bestValue >= beta {
			if !ttHit {
				e.tt.Save(slot, posKey, valueToTT(bestValue, st.ply), BoundLower,
					DepthNone, board.NoMove, st.staticEval)
			}
			return bestValue
		}

		if isPV && bestValue > alpha {
			alpha = bestValue
		}
		futilityBase = bestValue + 128
	}

	var mp movePicker
	mp.initQSearch(pos, e.hist, ttMove, depth, prev.currentMove.To())

	for m := mp.next(); m != board.NoMove; m = mp.next() {
		givesCheck := pos.GivesCheck(m)

		// Futility pruning
		if !inCheck && !givesCheck && futilityBase > -ValueKnownWin && !pos.AdvancedPawnPush(m) {
			debugAssert(!m.IsEnPassant(), "qsearch: en passant reached futility")

			futilityValue := futilityBase + PieceValueEg[pos.PieceAt(m.To()).Type()]
			if futilityValue <= alpha {
				bestValue = max(bestValue, futilityValue)
				continue
			}
			if futilityBase <= alpha && !SeeGE(pos, m, 1) {
				bestValue = max(bestValue, futilityBase)
				continue
			}
		}

		// Evasions that do not capture may be pruned once a non-mated score
		// is known.
		evasionPrunable := inCheck && bestValue > ValueMatedInMaxPly && !pos.IsCapture(m)

		// Moves losing material are skipped.
		if (!inCheck || evasionPrunable) && !m.IsPromotion() && !SeeGE(pos, m, ValueZero) {
			continue
		}

		if !pos.IsLegal(m) {
			continue
		}

		st.currentMove = m
		w.doMove(sp, m)
		value := -w.qsearch(nt, givesCheck, sp+1, -beta, -alpha, depth-OnePly)
		w.undoMove(sp, m)

		if e.stop.Load() {
			return ValueZero
		}

		debugAssert(value > -ValueInfinite && value < ValueInfinite, "qsearch: value out of range")

		if value > bestValue {
			bestValue = value
			if value > alpha {
				if isPV {
					st.updatePV(m, next.pv)
				}
				if isPV && value < beta {
					alpha = value
					bestMove = m
				} else {
					e.tt.Save(slot, posKey, valueToTT(value, st.ply), BoundLower,
						ttDepth, m, st.staticEval)
					return value
				}
			}
		}
	}

	// All evasions were searched and none is legal.
	if inCheck && bestValue == -ValueInfinite {
		return MatedIn(st.ply)
	}

	bound := BoundUpper
	if isPV && bestValue > oldAlpha {
		bound = BoundExact
	}
	e.tt.Save(slot, posKey, valueToTT(bestValue, st.ply), bound, ttDepth, bestMove, st.staticEval)

	debugAssert(bestValue > -ValueInfinite && bestValue < ValueInfinite, "qsearch: result out of range")
	return bestValue
}
