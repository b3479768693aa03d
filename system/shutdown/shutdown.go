package shutdown

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
)

var exit = os.Exit

type Scheduler interface {
	Stop(ctx context.Context)
}

type Valves interface {
	Ready() error
	AllOff(ctx context.Context)
}

// Shutdown stops the timers and closes every valve. Runs still holding are cut short by the
// all-off command at the controller.
func Shutdown(ctx context.Context, s Scheduler, v Valves) {
	s.Stop(ctx)

	if err := v.Ready(); err != nil {
		log.Warn().Err(err).Msg("Skipping all-off on shutdown")
		return
	}
	v.AllOff(context.WithoutCancel(ctx))
	log.Info().Msg("All valves closed")
}

func ShutdownWithError(ctx context.Context, s Scheduler, v Valves, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown(ctx, s, v)
	exit(1)
}
