package sound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
)

// Player plays the alert for a trigger.
type Player interface {
	Play(ctx context.Context, trigger alert.Trigger) error
}

// Tone is a beep frequency and length.
type Tone struct {
	Frequency float64
	Millis    int
}

// Tones maps each priority to its beep. Higher priorities are higher and longer.
var Tones = map[alert.Priority]Tone{
	alert.Low:    {Frequency: 660, Millis: 150},
	alert.Medium: {Frequency: 880, Millis: 250},
	alert.High:   {Frequency: 1320, Millis: 400},
}

// BeeepPlayer beeps through the system speaker and can also raise a desktop
// notification naming the keyword.
type BeeepPlayer struct {
	notify bool
	logger *slog.Logger

	beep     func(freq float64, millis int) error
	notifyFn func(title, message, icon string) error
}

// NewBeeepPlayer creates a player backed by beeep.
func NewBeeepPlayer(notify bool, logger *slog.Logger) *BeeepPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BeeepPlayer{
		notify:   notify,
		logger:   logger,
		beep:     beeep.Beep,
		notifyFn: beeep.Notify,
	}
}

// Play beeps with the rule's priority tone.
func (p *BeeepPlayer) Play(ctx context.Context, trigger alert.Trigger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tone, ok := Tones[trigger.Rule.Priority]
	if !ok {
		tone = Tones[alert.Low]
	}
	if err := p.beep(tone.Frequency, tone.Millis); err != nil {
		return fmt.Errorf("beep: %w", err)
	}

	if p.notify {
		title := fmt.Sprintf("Alerta: %s", trigger.Rule.Keyword)
		if err := p.notifyFn(title, trigger.Segment.Text, ""); err != nil {
			// The beep already played; a missing notification daemon is not fatal.
			p.logger.Warn("Desktop notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Nop discards triggers.
type Nop struct{}

func (Nop) Play(context.Context, alert.Trigger) error { return nil }

// Sink adapts a player to the alert dispatcher. Evaluations without a
// trigger are ignored.
func Sink(p Player) alert.SinkFunc {
	return func(ctx context.Context, ev alert.Evaluation) error {
		if ev.Trigger == nil {
			return nil
		}
		return p.Play(ctx, *ev.Trigger)
	}
}
