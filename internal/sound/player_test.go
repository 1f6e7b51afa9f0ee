package sound

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

type recorder struct {
	beeps   []Tone
	notes   []string
	beepErr error
	noteErr error
}

func newTestPlayer(notify bool, r *recorder) *BeeepPlayer {
	p := NewBeeepPlayer(notify, nil)
	p.beep = func(freq float64, millis int) error {
		r.beeps = append(r.beeps, Tone{Frequency: freq, Millis: millis})
		return r.beepErr
	}
	p.notifyFn = func(title, message, _ string) error {
		r.notes = append(r.notes, title+"|"+message)
		return r.noteErr
	}
	return p
}

func trigger(keyword string, p alert.Priority) alert.Trigger {
	return alert.Trigger{
		Rule:    alert.Rule{Keyword: keyword, Priority: p},
		Segment: transcript.Segment{Text: "a decisão final"},
	}
}

func TestPlayUsesPriorityTone(t *testing.T) {
	r := &recorder{}
	p := newTestPlayer(false, r)

	require.NoError(t, p.Play(context.Background(), trigger("decisão", alert.High)))
	require.NoError(t, p.Play(context.Background(), trigger("aprovado", alert.Low)))

	assert.Equal(t, []Tone{Tones[alert.High], Tones[alert.Low]}, r.beeps)
	assert.Empty(t, r.notes)
}

func TestPlayNotifies(t *testing.T) {
	r := &recorder{noteErr: errors.New("no daemon")}
	p := newTestPlayer(true, r)

	require.NoError(t, p.Play(context.Background(), trigger("decisão", alert.High)))
	assert.Equal(t, []string{"Alerta: decisão|a decisão final"}, r.notes)
}

func TestPlayReportsBeepFailure(t *testing.T) {
	r := &recorder{beepErr: errors.New("no speaker")}
	p := newTestPlayer(true, r)

	err := p.Play(context.Background(), trigger("prazo", alert.Medium))
	assert.ErrorContains(t, err, "no speaker")
	assert.Empty(t, r.notes)
}

func TestSinkIgnoresEvaluationsWithoutTrigger(t *testing.T) {
	r := &recorder{}
	sink := Sink(newTestPlayer(false, r))

	require.NoError(t, sink(context.Background(), alert.Evaluation{}))
	assert.Empty(t, r.beeps)

	tr := trigger("prazo", alert.Medium)
	require.NoError(t, sink(context.Background(), alert.Evaluation{Trigger: &tr}))
	assert.Len(t, r.beeps, 1)

	assert.NoError(t, Nop{}.Play(context.Background(), tr))
}
