package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sweeney/buttonman/internal/gpio"
)

// scriptMode is applied to scripts that are not executable.
const scriptMode = 0o766

func noop(name string) Handler {
	return func(context.Context, InputControl) error {
		log.Debugf("actions: %s has no action", name)
		return nil
	}
}

// script starts a user script detached.
func script(r Runner, command []string) Handler {
	return func(context.Context, InputControl) error {
		return StartScript(r, command)
	}
}

// StartScript starts command[0] detached, making it executable first if
// needed. A missing script is logged and skipped, as is an empty command.
func StartScript(r Runner, command []string) error {
	if len(command) == 0 {
		return nil
	}
	path, args := command[0], command[1:]
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warnf("actions: script %s does not exist", path)
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := unix.Access(path, unix.X_OK); err != nil {
		log.Infof("actions: %s is not executable, setting mode %o", path, scriptMode)
		if err := os.Chmod(path, scriptMode); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return r.Start(path, args...)
}

// spawn starts a command detached.
func spawn(r Runner, command []string) Handler {
	return func(context.Context, InputControl) error {
		return r.Start(command[0], command[1:]...)
	}
}

// blocking runs a command to completion with button input suspended, so the
// command can read the buttons itself.
func blocking(r Runner, command []string) Handler {
	return func(ctx context.Context, in InputControl) error {
		if err := in.Disable(); err != nil {
			return fmt.Errorf("disable input: %w", err)
		}
		runErr := r.Run(ctx, command[0], command[1:]...)
		if err := in.Enable(); err != nil {
			return errors.Join(runErr, fmt.Errorf("enable input: %w", err))
		}
		return runErr
	}
}

func runAll(ctx context.Context, r Runner, commands [][]string) error {
	var errs []error
	for _, c := range commands {
		if len(c) == 0 {
			continue
		}
		if err := r.Run(ctx, c[0], c[1:]...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// apDisable restores station mode, resets the LEDs and plays the off tones.
func apDisable(d Deps) Handler {
	return func(ctx context.Context, _ InputControl) error {
		log.Info("actions: disabling access point")
		errs := []error{runAll(ctx, d.Runner, d.WifiReset)}
		if d.Outputs != nil {
			errs = append(errs,
				d.Outputs.Set(gpio.OutputLED1, true),
				d.Outputs.Set(gpio.OutputLED2, false))
		}
		errs = append(errs, d.Beeper.Play(ctx, APOffTones))
		return errors.Join(errs...)
	}
}

// apEnable wipes the saved network config, restarts the access point and
// plays the on tones.
func apEnable(d Deps) Handler {
	return func(ctx context.Context, _ InputControl) error {
		log.Info("actions: enabling access point")
		return errors.Join(
			runAll(ctx, d.Runner, d.APStart),
			d.Beeper.Play(ctx, APOnTones))
	}
}

func closeAll(ctx context.Context, d Deps) error {
	if d.Registry == nil {
		return errors.New("no process registry")
	}
	terminated, killed, err := d.Registry.CloseAll(ctx, d.StopTimeout)
	log.Infof("actions: stopped registered processes, terminated=%v killed=%v", terminated, killed)
	return err
}

func stopAll(d Deps) Handler {
	return func(ctx context.Context, _ InputControl) error {
		return closeAll(ctx, d)
	}
}

// stopAllZero stops registered processes and then forces outputs to rest.
// Every failure is logged and the handler itself never fails.
func stopAllZero(d Deps) Handler {
	return func(ctx context.Context, _ InputControl) error {
		if err := closeAll(ctx, d); err != nil {
			log.Warnf("actions: close all: %v", err)
		}
		if d.Outputs != nil {
			if err := d.Outputs.ZeroAll(); err != nil {
				log.Warnf("actions: zero outputs: %v", err)
			}
		}
		if len(d.Zero) > 0 {
			if err := d.Runner.Run(ctx, d.Zero[0], d.Zero[1:]...); err != nil {
				log.Warnf("actions: zero command: %v", err)
			}
		}
		return nil
	}
}
