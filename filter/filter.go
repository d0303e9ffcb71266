package filter

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/types"
)

// Compile checks expression against Env. The expression must evaluate to a bool.
func Compile(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile filter %q: %w", expression, err)
	}
	return prog, nil
}

// Match runs a compiled filter against room.
func Match(prog *vm.Program, room types.Room) (bool, error) {
	res, err := expr.Run(prog, NewEnv(room))
	if err != nil {
		return false, err
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, fmt.Errorf("filter returned %T, not bool", res)
	}
	return ok, nil
}

// MatchRooms returns the rooms matching expression, keeping their order. An empty expression matches every room.
// A room the filter fails on at runtime is skipped.
func MatchRooms(expression string, rooms []types.Room) ([]types.Room, error) {
	if expression == "" {
		return rooms, nil
	}
	prog, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	res := make([]types.Room, 0, len(rooms))
	for _, room := range rooms {
		ok, err := Match(prog, room)
		if err != nil {
			globals.AppLogger.Debug("filter failed", "room", room.Id, "error", err)
			continue
		}
		if ok {
			res = append(res, room)
		}
	}
	return res, nil
}
