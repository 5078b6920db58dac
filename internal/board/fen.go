package board

import (
	"fmt"
	"strconv"
	"strings"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ParseFEN builds a position from Forsyth-Edwards notation. The move
// counters are optional.
func ParseFEN(fen string) (*Position, error) {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return nil, fmt.Errorf("fen %q: want at least 4 fields, got %d", fen, len(fields))
	}

	p := &Position{EnPassant: NoSquare, FullMoveNumber: 1}
	for sq := range p.Board {
		p.Board[sq] = NoPiece
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("fen %q: want 8 ranks, got %d", fen, len(ranks))
	}
	for i, row := range ranks {
		rank, file := 7-i, 0
		for j := 0; j < len(row); j++ {
			ch := row[j]
			if ch >= '1' && ch <= '8' {
				file += int(ch - '0')
				continue
			}
			pc := PieceFromChar(ch)
			if pc == NoPiece || file > 7 {
				return nil, fmt.Errorf("fen %q: bad placement in rank %d", fen, rank+1)
			}
			p.put(pc, NewSquare(file, rank))
			file++
		}
		if file != 8 {
			return nil, fmt.Errorf("fen %q: rank %d has %d files", fen, rank+1, file)
		}
	}

	switch fields[1] {
	case "w":
		p.SideToMove = White
	case "b":
		p.SideToMove = Black
	default:
		return nil, fmt.Errorf("fen %q: bad side to move %q", fen, fields[1])
	}

	if fields[2] != "-" {
		for _, ch := range fields[2] {
			i := strings.IndexRune("KQkq", ch)
			if i < 0 {
				return nil, fmt.Errorf("fen %q: bad castling flag %q", fen, ch)
			}
			p.CastlingRights |= 1 << i
		}
	}

	if fields[3] != "-" {
		ep, err := ParseSquare(fields[3])
		if err != nil {
			return nil, fmt.Errorf("fen %q: %w", fen, err)
		}
		// Keep the square only when a capture is actually available.
		if pawnAttacks[p.SideToMove.Other()][ep]&p.Pieces[p.SideToMove][Pawn] != 0 {
			p.EnPassant = ep
		}
	}

	if len(fields) > 4 {
		n, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("fen %q: bad halfmove clock: %w", fen, err)
		}
		p.HalfMoveClock = n
	}
	if len(fields) > 5 {
		n, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, fmt.Errorf("fen %q: bad fullmove number: %w", fen, err)
		}
		p.FullMoveNumber = n
	}

	if p.Pieces[White][King] == 0 || p.Pieces[Black][King] == 0 {
		return nil, fmt.Errorf("fen %q: missing king", fen)
	}

	p.Hash = p.ComputeHash()
	p.PawnKey = p.ComputePawnKey()
	p.refreshCheckInfo()
	return p, nil
}

// ToFEN renders the position in Forsyth-Edwards notation.
func (p *Position) ToFEN() string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := range 8 {
			pc := p.Board[NewSquare(file, rank)]
			if pc == NoPiece {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteString(pc.String())
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		if rank > 0 {
			sb.WriteByte('/')
		}
	}
	side := "w"
	if p.SideToMove == Black {
		side = "b"
	}
	fmt.Fprintf(&sb, " %s %s %s %d %d", side, p.CastlingRights, p.EnPassant, p.HalfMoveClock, p.FullMoveNumber)
	return sb.String()
}
