package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/audio"
	"github.com/JeffJna/instant-meeting-insights/internal/vad"
)

// HTTPOptions configure the chunked HTTP backend.
type HTTPOptions struct {
	Client    Config
	Model     string
	Language  string
	SessionID string

	// SampleRate is the rate audio is resampled to before VAD and upload.
	SampleRate    int
	VADThreshold  float32
	VADWindowSize int
	Chunking      audio.ChunkingConfig

	Logger *slog.Logger
	// Observe, if set, is called after every request with its outcome.
	Observe func(duration time.Duration, err error)
}

// HTTPBackend cuts the audio into utterances with an energy VAD and
// transcribes each one with a separate HTTP request. Requests run
// concurrently, so utterances may complete out of order.
type HTTPBackend struct {
	client *Client
	opts   HTTPOptions
}

// NewHTTPBackend creates the chunked HTTP backend.
func NewHTTPBackend(opts HTTPOptions) (*HTTPBackend, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.VADWindowSize <= 0 {
		opts.VADWindowSize = 512
	}
	if opts.Chunking.SampleRate == 0 {
		opts.Chunking.SampleRate = opts.SampleRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client, err := NewClient(opts.Client)
	if err != nil {
		return nil, err
	}
	return &HTTPBackend{client: client, opts: opts}, nil
}

func (b *HTTPBackend) Name() string { return "http" }

// Stats returns request statistics.
func (b *HTTPBackend) Stats() ClientStats {
	return b.client.Stats()
}

// Transcribe starts the pipeline. Each utterance is announced with an empty
// interim when speech starts and closed with a Final once its request
// returns. Utterances the chunker discards as noise close with an empty
// Final. A request that fails after retries ends the stream with an error.
func (b *HTTPBackend) Transcribe(ctx context.Context, frames <-chan audio.Frame) (<-chan Result, error) {
	buffer, err := audio.NewBuffer(b.opts.SampleRate, b.opts.VADWindowSize)
	if err != nil {
		return nil, err
	}
	detector, err := vad.New(b.opts.VADThreshold, b.opts.VADWindowSize, b.opts.SampleRate)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &httpPipeline{
		backend:  b,
		buffer:   buffer,
		detector: detector,
		chunker:  audio.NewChunker(b.opts.Chunking),
		out:      make(chan Result, 32),
		ctx:      ctx,
		cancel:   cancel,
	}
	go p.run(frames)
	return p.out, nil
}

type httpPipeline struct {
	backend  *HTTPBackend
	buffer   *audio.Buffer
	detector *vad.Detector
	chunker  *audio.Chunker

	ctx    context.Context
	cancel context.CancelFunc

	out      chan Result
	inflight sync.WaitGroup

	mu     sync.Mutex
	failed bool
}

func (p *httpPipeline) run(frames <-chan audio.Frame) {
	defer close(p.out)
	defer p.cancel()

	logger := p.backend.opts.Logger
	for {
		select {
		case <-p.ctx.Done():
			p.inflight.Wait()
			return

		case f, ok := <-frames:
			if !ok {
				if chunk := p.chunker.ForceFinalize(); chunk != nil {
					p.dispatch(chunk)
				}
				p.inflight.Wait()
				stats := p.chunker.GetStats()
				speech := p.detector.Stats()
				requests := p.backend.Stats()
				logger.Debug("HTTP transcription pipeline drained",
					slog.Uint64("chunks", stats.ChunksCreated),
					slog.Uint64("dropped", stats.ChunksDropped),
					slog.Uint64("requests", requests.TotalRequests),
					slog.Uint64("retries", requests.TotalRetries),
					slog.Duration("avg_latency", requests.AvgResponseTime),
					slog.Uint64("vad_windows", speech.Windows),
					slog.Float64("speech_ratio", speech.SpeechRatio),
				)
				return
			}

			p.buffer.Write(f)
			for _, window := range p.buffer.Windows() {
				result, err := p.detector.Detect(window)
				if err != nil {
					logger.Warn("VAD failed on window", slog.String("error", err.Error()))
					continue
				}
				opened, closed := p.chunker.ProcessWindow(window, result)
				if opened != "" {
					p.emit(Result{UtteranceID: opened})
				}
				if closed != nil {
					p.dispatch(closed)
				}
			}
		}
	}
}

func (p *httpPipeline) dispatch(chunk *audio.AudioChunk) {
	if chunk.Dropped {
		p.emit(Result{UtteranceID: chunk.ChunkID, Final: true})
		return
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		opts := p.backend.opts
		start := time.Now()
		resp, err := p.backend.client.Transcribe(p.ctx, &Request{
			Chunk:     chunk,
			SessionID: opts.SessionID,
			Language:  opts.Language,
			Model:     opts.Model,
		})
		if opts.Observe != nil {
			opts.Observe(time.Since(start), err)
		}

		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			opts.Logger.Error("Chunk transcription failed",
				slog.String("chunk_id", chunk.ChunkID),
				slog.String("error", err.Error()),
			)
			p.emit(Result{Err: fmt.Errorf("%w: %v", ErrDisconnected, err)})
			return
		}

		opts.Logger.Debug("Chunk transcribed",
			slog.String("chunk_id", chunk.ChunkID),
			slog.Duration("audio", chunk.Duration),
			slog.Duration("latency", time.Since(start)),
		)
		p.emit(Result{UtteranceID: chunk.ChunkID, Text: resp.Text, Final: true})
	}()
}

// emit delivers r unless the pipeline already failed. An error result is
// the last one delivered and cancels everything still running.
func (p *httpPipeline) emit(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed {
		return
	}
	if r.Err != nil {
		p.failed = true
		defer p.cancel()
	}
	select {
	case p.out <- r:
	case <-p.ctx.Done():
	}
}
