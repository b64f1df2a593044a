package trading

import (
	"time"

	"alert-trader/pkg/utils"
)

// checkpoint maps entries at or after From onto the Exit time of day.
type checkpoint struct {
	From utils.Clock
	Exit utils.Clock
}

// Entries before the first checkpoint exit with it.
var checkpoints = []checkpoint{
	{From: utils.NewClock(11, 15), Exit: utils.NewClock(12, 15)},
	{From: utils.NewClock(12, 15), Exit: utils.NewClock(13, 15)},
	{From: utils.NewClock(13, 15), Exit: utils.NewClock(14, 15)},
	{From: utils.NewClock(14, 15), Exit: utils.NewClock(14, 55)},
}

// ExitTime returns the scheduled market exit for a position entered at
// entry, on the same day in the market timezone.
func ExitTime(entry time.Time) time.Time {
	entry = entry.In(utils.IndiaLocation)
	c := utils.ClockOf(entry)

	exit := checkpoints[0].Exit
	for _, cp := range checkpoints {
		if c >= cp.From {
			exit = cp.Exit
		}
	}
	return exit.On(entry)
}
