package actions

import (
	"context"
	"time"

	"github.com/sweeney/buttonman/internal/gpio"
)

// Tone is one buzzer pulse followed by silence.
type Tone struct {
	On  time.Duration
	Off time.Duration
}

func tone(onMs, offMs int) Tone {
	return Tone{On: time.Duration(onMs) * time.Millisecond, Off: time.Duration(offMs) * time.Millisecond}
}

// APOnTones is played after the access point is started.
var APOnTones = []Tone{tone(100, 100), tone(100, 100), tone(100, 120), tone(300, 200)}

// APOffTones is played after station mode is restored.
var APOffTones = []Tone{tone(300, 80), tone(80, 60), tone(100, 130), tone(80, 200)}

// Beeper plays tone patterns on the buzzer output.
type Beeper struct {
	out     gpio.Outputs
	enabled bool
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewBeeper creates a Beeper. A disabled Beeper is silent.
func NewBeeper(out gpio.Outputs, enabled bool) *Beeper {
	return &Beeper{out: out, enabled: enabled, sleep: sleepCtx}
}

// Play sounds each tone in order. The buzzer is always left off.
func (b *Beeper) Play(ctx context.Context, tones []Tone) error {
	if b == nil || !b.enabled || b.out == nil {
		return nil
	}
	for _, t := range tones {
		if err := b.out.Set(gpio.OutputBuzzer, true); err != nil {
			return err
		}
		err := b.sleep(ctx, t.On)
		if offErr := b.out.Set(gpio.OutputBuzzer, false); offErr != nil {
			return offErr
		}
		if err != nil {
			return err
		}
		if err := b.sleep(ctx, t.Off); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
