package scheduler

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/buttonman/internal/input"
	"github.com/sweeney/buttonman/internal/logic"
)

// BootCheck listens to key 1 for the boot window and fires the boot action
// once if the key was held longer than the boot hold threshold. A key that is
// already down when the window opens, or still down when it closes, counts
// as pressed from the open or until the close.
//
// Input is left disabled and the queue empty so Run starts clean. A zero
// boot window skips the check.
func (p *Panel) BootCheck(ctx context.Context) (BootReport, error) {
	var rep BootReport
	if p.cfg.BootWindow <= 0 {
		return rep, nil
	}
	p.ctx = ctx
	rep.Ran = true

	log.Infof("panel: boot check, hold key 1 for %v within %v to start the access point", p.cfg.BootHold, p.cfg.BootWindow)
	if err := p.enableWith(p.cfg.BootDebounce); err != nil {
		return rep, err
	}

	start := p.now()
	if p.queue.Len() == 0 && p.keyDown(p.cfg.Key1) {
		log.Info("panel: key 1 down at boot")
		p.queue.Push(input.Event{Pin: p.cfg.Key1, Level: p.pressedLevel(), Time: start})
	}

	waitErr := p.wait(ctx, p.cfg.BootWindow)

	if err := p.Disable(); err != nil {
		log.Warnf("panel: %v", err)
	}
	end := p.now()
	if p.keyDown(p.cfg.Key1) {
		p.queue.Push(input.Event{Pin: p.cfg.Key1, Level: !p.pressedLevel(), Time: end})
	}

	var edges []logic.Edge
	for _, e := range p.queue.Drain() {
		if e.Pin != p.cfg.Key1 {
			continue
		}
		edges = append(edges, logic.Edge{Pressed: p.pressed(e.Level), Time: e.Time})
	}
	rep.Durations, rep.Discarded = logic.HeldDurations(edges)
	if rep.Discarded > 0 {
		log.Warnf("panel: boot check discarded %d press(es) released before they started", rep.Discarded)
	}

	if waitErr != nil {
		log.Infof("panel: boot check interrupted: %v", waitErr)
		p.obs.Boot(rep)
		return rep, waitErr
	}

	if logic.AnyLongerThan(rep.Durations, p.cfg.BootHold) {
		rep.Triggered = true
		log.Infof("panel: key 1 held for %v at boot", rep.Longest())
		p.Dispatch(logic.Trigger{Kind: logic.TriggerBoot})
	} else {
		log.Info("panel: boot check done, no long hold")
	}
	p.obs.Boot(rep)
	return rep, nil
}

// keyDown reads pin directly. Read errors count as released.
func (p *Panel) keyDown(pin int) bool {
	level, err := p.src.ReadLevel(pin)
	if err != nil {
		log.Warnf("panel: read pin %d: %v", pin, err)
		return false
	}
	return p.pressed(level)
}
