package valve

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/datadog"
)

const (
	inverterOff = 0
	inverterOn  = 1
	allValves   = 0
)

var ErrControllerUnset = errors.New("controller address not set (open settings first)")

// Commander is the controller's single "set valve state" operation.
type Commander interface {
	Address() string
	SetValve(ctx context.Context, valve int, inverter int) error
}

// Actuator sequences master relay and zone valve commands. It keeps no state between
// calls and may run concurrently; overlapping runs on the same zone are not prevented.
type Actuator struct {
	cmd  Commander
	hold func(time.Duration)
}

func NewActuator(cmd Commander) *Actuator {
	return &Actuator{cmd: cmd, hold: time.Sleep}
}

// Ready reports ErrControllerUnset when no controller address is configured.
func (a *Actuator) Ready() error {
	if a.cmd.Address() == "" {
		return ErrControllerUnset
	}
	return nil
}

// Run opens the master (when enabled) and the zone, holds for the duration, then closes
// everything. The closing command is sent no matter how the opening commands fared.
func (a *Actuator) Run(ctx context.Context, zone int, durationSeconds int, useMaster bool, masterValveID int) error {
	if err := a.Ready(); err != nil {
		return err
	}

	hold := time.Duration(max(1, durationSeconds)) * time.Second

	log.Info().
		Int("zone", zone).
		Dur("duration", hold).
		Bool("use_master", useMaster).
		Int("master_valve", masterValveID).
		Msg("Starting zone run")

	defer a.AllOff(context.WithoutCancel(ctx))

	if useMaster && masterValveID > 0 {
		a.send(ctx, masterValveID, inverterOn, "master_open")
	}
	a.send(ctx, zone, inverterOn, "zone_open")

	a.hold(hold)

	log.Info().Int("zone", zone).Msg("Zone run complete")
	return nil
}

// AllOff closes every valve and the master relay.
func (a *Actuator) AllOff(ctx context.Context) {
	a.send(ctx, allValves, inverterOff, "all_off")
}

func (a *Actuator) send(ctx context.Context, valve, inverter int, command string) {
	if err := a.cmd.SetValve(ctx, valve, inverter); err != nil {
		datadog.Incr("valve.command_failed", "command:"+command)
		log.Warn().Err(err).
			Str("command", command).
			Int("valve", valve).
			Int("inverter", inverter).
			Msg("Valve command failed")
	}
}
