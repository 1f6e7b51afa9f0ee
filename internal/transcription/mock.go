package transcription

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
)

// DefaultMockPhrases are the meeting lines the mock backend draws from.
var DefaultMockPhrases = []string{
	"Vamos começar a reunião de hoje.",
	"Precisamos discutir o novo projeto.",
	"Quais são os próximos passos?",
	"Vamos definir os prazos para entrega.",
	"Como estão os resultados do trimestre?",
	"Alguém tem alguma pergunta?",
	"Podemos agendar a próxima reunião.",
	"Precisamos de mais recursos para este projeto.",
	"A equipe está pronta para começar?",
	"Quem será responsável por esta tarefa?",
	"Vamos revisar o orçamento.",
	"Os clientes estão satisfeitos com o serviço.",
	"Qual é a nossa prioridade agora?",
	"Precisamos melhorar nossos processos internos.",
	"Esta decisão é importante para o futuro da empresa.",
}

// MockOptions configure the mock backend.
type MockOptions struct {
	// Interval is the time between utterances.
	Interval time.Duration
	Phrases  []string
	// Seed makes phrase selection reproducible.
	Seed    uint64
	Speaker string
}

// MockBackend ignores the audio and produces a random phrase every
// Interval, revealed word by word as interim results before it is finalized.
type MockBackend struct {
	opts MockOptions
}

// NewMockBackend creates a mock backend.
func NewMockBackend(opts MockOptions) *MockBackend {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if len(opts.Phrases) == 0 {
		opts.Phrases = DefaultMockPhrases
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}
	return &MockBackend{opts: opts}
}

func (b *MockBackend) Name() string { return "mock" }

// Transcribe emits phrases until ctx is cancelled or frames is closed.
func (b *MockBackend) Transcribe(ctx context.Context, frames <-chan audio.Frame) (<-chan Result, error) {
	out := make(chan Result, 8)

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-frames:
				if !ok {
					return
				}
			}
		}
	}()

	go func() {
		defer close(out)
		rng := rand.New(rand.NewPCG(b.opts.Seed, b.opts.Seed^0x9e3779b97f4a7c15))

		send := func(r Result) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			case <-ended:
				return false
			}
		}
		wait := func(d time.Duration) bool {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return true
			case <-ctx.Done():
				return false
			case <-ended:
				return false
			}
		}

		for {
			if !wait(b.opts.Interval) {
				return
			}

			phrase := b.opts.Phrases[rng.IntN(len(b.opts.Phrases))]
			words := strings.Fields(phrase)
			id := uuid.NewString()
			step := b.opts.Interval / time.Duration(2*len(words)+1)

			for i := 1; i <= len(words); i++ {
				if !send(Result{UtteranceID: id, Text: strings.Join(words[:i], " "), Speaker: b.opts.Speaker}) {
					return
				}
				if !wait(step) {
					return
				}
			}
			if !send(Result{UtteranceID: id, Text: phrase, Final: true, Speaker: b.opts.Speaker}) {
				return
			}
		}
	}()

	return out, nil
}
