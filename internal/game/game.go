// Package game implements the tic-tac-toe engine: per-game records keyed
// by GameId and the move/result state machine driven by the dispatcher on
// receive and by outbound actions on send.
package game

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Cell symbols. Empty cells hold a space so boards render directly.
const (
	SymbolX byte = 'X'
	SymbolO byte = 'O'
	Empty   byte = ' '
)

// Validation failures, in the order the receive path checks them.
var (
	ErrUnknownGame = errors.New("unknown game id")
	ErrOutOfOrder  = errors.New("out-of-order or duplicate turn")
	ErrBadPosition = errors.New("position out of range or cell taken")
	ErrWrongSymbol = errors.New("symbol does not belong to opponent")
	ErrNotYourTurn = errors.New("not your turn")
	ErrGameExists  = errors.New("game id already in use")
)

// Board is the 3x3 grid in row-major order.
type Board [9]byte

func newBoard() Board {
	var b Board
	for i := range b {
		b[i] = Empty
	}
	return b
}

// FilledCells counts non-empty cells. For every live game this equals the
// turn counter minus one.
func (b Board) FilledCells() int {
	n := 0
	for _, c := range b {
		if c != Empty {
			n++
		}
	}
	return n
}

var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// Result checks for a terminal position. It returns the winning symbol and
// line for a win, or Empty with done=true for a draw; done=false means the
// game continues.
func (b Board) Result() (winner byte, line [3]int, done bool) {
	for _, l := range winningLines {
		if b[l[0]] != Empty && b[l[0]] == b[l[1]] && b[l[1]] == b[l[2]] {
			return b[l[0]], l, true
		}
	}
	if b.FilledCells() == 9 {
		return Empty, [3]int{}, true
	}
	return Empty, [3]int{}, false
}

// String renders the board the way the shell prints it.
func (b Board) String() string {
	var sb strings.Builder
	for row := 0; row < 3; row++ {
		fmt.Fprintf(&sb, " %c | %c | %c \n", b[row*3], b[row*3+1], b[row*3+2])
		if row < 2 {
			sb.WriteString("-----------\n")
		}
	}
	return sb.String()
}

// FormatLine renders a winning line for the WINNING_LINE field ("0,4,8").
func FormatLine(line [3]int) string {
	return fmt.Sprintf("%d,%d,%d", line[0], line[1], line[2])
}

// OpposingSymbol maps X to O and vice versa.
func OpposingSymbol(s byte) byte {
	if s == SymbolX {
		return SymbolO
	}
	return SymbolX
}

// Game is one running match against a single opponent.
type Game struct {
	ID             string
	Opponent       string // opponent UserId
	MySymbol       byte
	OpponentSymbol byte
	Board          Board
	Turn           int // next expected TURN value, starts at 1
	MyTurn         bool
	Token          string
}

// Manager holds every live game. Games are created by an invite (sent or
// received) and destroyed by a result.
type Manager struct {
	mu    sync.Mutex
	games map[string]*Game
}

func NewManager() *Manager {
	return &Manager{games: make(map[string]*Game)}
}

// StartLocal registers the initiator's side of a new game. The initiator
// plays X and moves first.
func (m *Manager) StartLocal(gameID, opponent, tok string) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; ok {
		return Game{}, ErrGameExists
	}
	g := &Game{
		ID:             gameID,
		Opponent:       opponent,
		MySymbol:       SymbolX,
		OpponentSymbol: SymbolO,
		Board:          newBoard(),
		Turn:           1,
		MyTurn:         true,
		Token:          tok,
	}
	m.games[gameID] = g
	return *g, nil
}

// AcceptInvite registers the invitee's side. A duplicate GAMEID reports
// ok=false and leaves the existing game untouched.
func (m *Manager) AcceptInvite(gameID, opponent string, inviterSymbol byte, tok string) (Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; ok {
		return Game{}, false
	}
	g := &Game{
		ID:             gameID,
		Opponent:       opponent,
		MySymbol:       OpposingSymbol(inviterSymbol),
		OpponentSymbol: inviterSymbol,
		Board:          newBoard(),
		Turn:           1,
		MyTurn:         false,
		Token:          tok,
	}
	m.games[gameID] = g
	return *g, true
}

// ApplyRemoteMove validates and applies an opponent move, in the wire
// validation order: game known, turn current, cell free, symbol theirs.
func (m *Manager) ApplyRemoteMove(gameID string, turn, position int, symbol byte) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return Game{}, ErrUnknownGame
	}
	if turn != g.Turn {
		return Game{}, ErrOutOfOrder
	}
	if position < 0 || position > 8 || g.Board[position] != Empty {
		return Game{}, ErrBadPosition
	}
	if symbol != g.OpponentSymbol {
		return Game{}, ErrWrongSymbol
	}
	g.Board[position] = symbol
	g.Turn++
	g.MyTurn = true
	return *g, nil
}

// ApplyLocalMove applies our own move and returns the TURN value to put on
// the wire for it. Moves out of turn or onto taken cells are refused
// before anything is transmitted.
func (m *Manager) ApplyLocalMove(gameID string, position int) (Game, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return Game{}, 0, ErrUnknownGame
	}
	if !g.MyTurn {
		return Game{}, 0, ErrNotYourTurn
	}
	if position < 0 || position > 8 || g.Board[position] != Empty {
		return Game{}, 0, ErrBadPosition
	}
	turn := g.Turn
	g.Board[position] = g.MySymbol
	g.Turn++
	g.MyTurn = false
	return *g, turn, nil
}

// Remove drops a finished game and returns its final state.
func (m *Manager) Remove(gameID string) (Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return Game{}, false
	}
	delete(m.games, gameID)
	return *g, true
}

// Get returns a copy of a live game.
func (m *Manager) Get(gameID string) (Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return Game{}, false
	}
	return *g, true
}

// List returns copies of all live games.
func (m *Manager) List() []Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Game, 0, len(m.games))
	for _, g := range m.games {
		out = append(out, *g)
	}
	return out
}
