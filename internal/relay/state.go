package relay

import (
	"slices"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

// transitions lists the legal successor states of every relay state.
var transitions = map[types.RelayState][]types.RelayState{
	types.RelayStopped:  {types.RelayStarting},
	types.RelayStarting: {types.RelayRunning, types.RelayCrashed, types.RelayStopping},
	types.RelayRunning:  {types.RelayCrashed, types.RelayStopping},
	types.RelayStopping: {types.RelayStopped},
	types.RelayCrashed:  {types.RelayStarting, types.RelayStopping, types.RelayStopped},
}

func canTransition(from, to types.RelayState) bool {
	return slices.Contains(transitions[from], to)
}
