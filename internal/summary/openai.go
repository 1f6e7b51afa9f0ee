package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

const systemPrompt = `Você é um assistente que redige atas de reunião em português.
A partir da transcrição fornecida, escreva uma ata em Markdown com as seções:
"# Ata da Reunião", "## Participantes", "## Pontos Discutidos", "## Decisões Tomadas",
"## Próximos Passos" e "## Observações". Não invente fatos que não estejam na transcrição.`

// OpenAIConfig configures the chat completion summarizer.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional; any OpenAI compatible server
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAI asks a chat completion model to write the minutes.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	now     func() time.Time
}

// NewOpenAI creates the chat completion summarizer.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(config),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		now:     time.Now,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Summarize(ctx context.Context, segments []transcript.Segment) (Document, error) {
	if len(segments) == 0 {
		return Document{}, &SummarizationFailedError{Backend: o.Name(), Err: ErrEmptyTranscript}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: renderTranscript(segments)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return Document{}, &SummarizationFailedError{Backend: o.Name(), Err: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Document{}, &SummarizationFailedError{Backend: o.Name(), Err: errors.New("model returned no content")}
	}

	return Document{
		Title:       "Ata da Reunião",
		Markdown:    strings.TrimSpace(resp.Choices[0].Message.Content) + "\n",
		Backend:     o.Name(),
		Segments:    len(segments),
		GeneratedAt: o.now(),
	}, nil
}

// renderTranscript formats segments as "[15:04:05] speaker: text" lines.
func renderTranscript(segments []transcript.Segment) string {
	var b strings.Builder
	b.WriteString("Transcrição da reunião:\n\n")
	for _, s := range segments {
		fmt.Fprintf(&b, "[%s] ", s.Timestamp.Format("15:04:05"))
		if s.Speaker != "" {
			b.WriteString(s.Speaker + ": ")
		}
		b.WriteString(strings.TrimSpace(s.Text))
		b.WriteByte('\n')
	}
	return b.String()
}
