package inverter

import (
	"context"

	"pi30/internal/pi30"
	"pi30/pkg/log"

	"go.uber.org/zap"
)

// Reading is the outcome of one command in a polling cycle.
type Reading struct {
	Command pi30.Command
	Record  *pi30.Record
	Err     error
}

// Poll queries every command once, in order. A failing command is reported
// in its Reading and does not stop the cycle; a cancelled context does.
func Poll(ctx context.Context, p Provider, cmds []pi30.Command) []Reading {
	readings := make([]Reading, 0, len(cmds))
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			readings = append(readings, Reading{Command: cmd, Err: err})
			continue
		}

		rec, err := p.Query(ctx, cmd)
		if err != nil {
			log.Warn("Query failed", zap.String("command", cmd.String()), zap.Error(err))
		}
		readings = append(readings, Reading{Command: cmd, Record: rec, Err: err})
	}
	return readings
}
