// Package timing provides explicit stage timers for pipeline operations.
package timing

import (
	"time"

	"github.com/rs/zerolog"
)

// Track starts a stage timer and returns the function that stops it and
// logs the elapsed time:
//
//	defer timing.Track(logger, "render_page")()
func Track(logger zerolog.Logger, stage string) func() {
	start := time.Now()
	return func() {
		logger.Debug().
			Str("stage", stage).
			Dur("elapsed", time.Since(start)).
			Msg("stage complete")
	}
}
