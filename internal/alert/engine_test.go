package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

var at = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func segment(id, text string) transcript.Segment {
	return transcript.Segment{ID: id, Text: text, Timestamp: at, Status: transcript.Final}
}

func mustAdd(t *testing.T, reg *Registry, kw string, p Priority) Rule {
	t.Helper()
	rule, err := reg.Add(kw, p)
	require.NoError(t, err)
	return rule
}

func TestEnginePrazoDecisaoScenario(t *testing.T) {
	reg := NewRegistry(nil)
	prazo := mustAdd(t, reg, "prazo", Medium)
	decisao := mustAdd(t, reg, "decisão", High)

	log := transcript.NewLog()
	engine := NewEngine(reg, EngineConfig{})

	var evals []Evaluation
	log.OnAppend(func(seg transcript.Segment) {
		ev, ok := engine.Evaluate(seg)
		require.True(t, ok)
		evals = append(evals, ev)
	})

	require.NoError(t, log.Append(segment("s1", "Precisamos definir o prazo e a decisão final.")))

	// Evaluation has completed by the time Append returns.
	require.Len(t, evals, 1)
	ev := evals[0]
	require.Len(t, ev.Matches, 2)
	assert.Equal(t, prazo.ID, ev.Matches[0].RuleID)
	assert.Equal(t, []Span{{Start: 21, End: 26}}, ev.Matches[0].Spans)
	assert.Equal(t, decisao.ID, ev.Matches[1].RuleID)

	require.NotNil(t, ev.Trigger)
	assert.Equal(t, decisao.ID, ev.Trigger.Rule.ID)
	assert.Equal(t, "s1", ev.Trigger.Segment.ID)

	stats := engine.Stats()
	assert.Equal(t, uint64(1), stats.Triggers)
	assert.Equal(t, uint64(1), stats.Matched)
}

func TestEngineSilentRuleMatchesWithoutSound(t *testing.T) {
	reg := NewRegistry(nil)
	high := mustAdd(t, reg, "decisão", High)
	_, err := reg.SetSoundEnabled(high.ID, false)
	require.NoError(t, err)
	low := mustAdd(t, reg, "final", Low)

	engine := NewEngine(reg, EngineConfig{})
	ev, ok := engine.Evaluate(segment("s1", "A decisão final."))
	require.True(t, ok)

	require.Len(t, ev.Matches, 2)
	assert.False(t, ev.Matches[0].SoundEnabled)
	require.NotNil(t, ev.Trigger)
	assert.Equal(t, low.ID, ev.Trigger.Rule.ID)

	_, err = reg.SetSoundEnabled(low.ID, false)
	require.NoError(t, err)
	ev, _ = engine.Evaluate(segment("s2", "A decisão final."))
	assert.Len(t, ev.Matches, 2)
	assert.Nil(t, ev.Trigger)
}

func TestEngineTieBreaksOnSmallestRuleID(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustAdd(t, reg, "prazo", Medium)
	b := mustAdd(t, reg, "orçamento", Medium)
	want := a.ID
	if b.ID < want {
		want = b.ID
	}

	engine := NewEngine(reg, EngineConfig{})
	ev, _ := engine.Evaluate(segment("s1", "O orçamento e o prazo."))
	require.NotNil(t, ev.Trigger)
	assert.Equal(t, want, ev.Trigger.Rule.ID)
}

func TestEngineNeverEvaluatesSegmentTwice(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, "decisão", High)

	engine := NewEngine(reg, EngineConfig{})
	seg := segment("s1", "Esta decisão é importante para o futuro da empresa.")

	ev, ok := engine.Evaluate(seg)
	require.True(t, ok)
	require.NotNil(t, ev.Trigger)

	ev, ok = engine.Evaluate(seg)
	assert.False(t, ok)
	assert.Nil(t, ev.Trigger)
	assert.Empty(t, ev.Matches)

	stats := engine.Stats()
	assert.Equal(t, uint64(1), stats.Triggers)
	assert.Equal(t, uint64(1), stats.Duplicates)
}

func TestEngineIgnoresReappendAfterLogClear(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, "decisão", High)

	log := transcript.NewLog()
	engine := NewEngine(reg, EngineConfig{})
	engine.Attach(log)

	seg := segment("s1", "A decisão foi tomada.")
	require.NoError(t, log.Append(seg))
	log.Clear()
	require.NoError(t, log.Append(seg))

	assert.Equal(t, uint64(1), engine.Stats().Triggers)
	assert.Equal(t, uint64(1), engine.Stats().Duplicates)
}

func TestEngineSeesRegistryChangesImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	engine := NewEngine(reg, EngineConfig{})

	ev, _ := engine.Evaluate(segment("s1", "Vamos revisar o orçamento."))
	assert.Empty(t, ev.Matches)

	rule := mustAdd(t, reg, "orçamento", Medium)
	ev, _ = engine.Evaluate(segment("s2", "Vamos revisar o orçamento."))
	require.Len(t, ev.Matches, 1)

	require.NoError(t, reg.Remove(rule.ID))
	ev, _ = engine.Evaluate(segment("s3", "Vamos revisar o orçamento."))
	assert.Empty(t, ev.Matches)
}

func TestEngineDispatchesMatchesOnly(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, "prazo", Medium)

	d := NewDispatcher(4, nil)
	var mu sync.Mutex
	var got []string
	require.NoError(t, d.Register("collect", func(_ context.Context, ev Evaluation) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Segment.ID)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	engine := NewEngine(reg, EngineConfig{Dispatcher: d})
	engine.Evaluate(segment("s1", "Sem palavras-chave aqui."))
	engine.Evaluate(segment("s2", "Qual o prazo?"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"s2"}, got)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestDispatcherDropsWhenSinkIsSlow(t *testing.T) {
	d := NewDispatcher(1, nil)
	var dropped []string
	d.OnDrop = func(sink string) { dropped = append(dropped, sink) }

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	require.NoError(t, d.Register("slow", func(ctx context.Context, _ Evaluation) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	require.NoError(t, d.Register("failing", func(context.Context, Evaluation) error {
		return errors.New("boom")
	}))
	assert.Error(t, d.Register("slow", nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// First evaluation is taken by the slow sink, second fills its queue.
	require.True(t, d.Enqueue(Evaluation{Segment: segment("a", "")}))
	<-started
	d.Enqueue(Evaluation{Segment: segment("b", "")})

	start := time.Now()
	ok := d.Enqueue(Evaluation{Segment: segment("c", "")})
	assert.Less(t, time.Since(start), 100*time.Millisecond, "enqueue must not block")
	assert.False(t, ok)
	assert.Contains(t, dropped, "slow")

	assert.Eventually(t, func() bool {
		for _, s := range d.Stats() {
			if s.Name == "failing" && s.Failed >= 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	close(release)
	cancel()
	require.NoError(t, <-done)

	assert.Error(t, d.Register("late", func(context.Context, Evaluation) error { return nil }))
}
