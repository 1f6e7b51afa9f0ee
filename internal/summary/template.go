package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

// Template writes deterministic minutes: participants, the keywords that
// came up ordered by priority, and the full transcript with timestamps.
type Template struct {
	// Rules, if set, supplies the keywords listed under "Pontos de Atenção".
	Rules func() []alert.Rule
	Now   func() time.Time
}

func (t *Template) Name() string { return "template" }

type keywordHits struct {
	rule  alert.Rule
	count int
}

func (t *Template) Summarize(ctx context.Context, segments []transcript.Segment) (Document, error) {
	if len(segments) == 0 {
		return Document{}, &SummarizationFailedError{Backend: t.Name(), Err: ErrEmptyTranscript}
	}
	if err := ctx.Err(); err != nil {
		return Document{}, &SummarizationFailedError{Backend: t.Name(), Err: err}
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	generated := now()

	var b strings.Builder
	b.WriteString("# Ata da Reunião\n\n")
	fmt.Fprintf(&b, "- Data: %s\n", segments[0].Timestamp.Format("02/01/2006"))
	fmt.Fprintf(&b, "- Início: %s\n", segments[0].Timestamp.Format("15:04:05"))
	fmt.Fprintf(&b, "- Término: %s\n", lastTimestamp(segments).Format("15:04:05"))
	fmt.Fprintf(&b, "- Falas registradas: %d\n\n", len(segments))

	b.WriteString("## Participantes\n")
	speakers := participants(segments)
	if len(speakers) == 0 {
		b.WriteString("- Não identificados\n")
	}
	for _, s := range speakers {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	if t.Rules != nil {
		hits := countKeywords(t.Rules(), segments)
		if len(hits) > 0 {
			b.WriteString("\n## Pontos de Atenção\n")
			for _, h := range hits {
				fmt.Fprintf(&b, "- **%s** (%s): %d menção(ões)\n", h.rule.Keyword, h.rule.Priority, h.count)
			}
		}
	}

	b.WriteString("\n## Transcrição\n")
	for _, s := range segments {
		speaker := ""
		if s.Speaker != "" {
			speaker = s.Speaker + ": "
		}
		fmt.Fprintf(&b, "- [%s] %s%s\n", s.Timestamp.Format("15:04:05"), speaker, strings.TrimSpace(s.Text))
	}

	b.WriteString("\n## Observações\n")
	b.WriteString("Esta ata foi gerada automaticamente com base na transcrição da reunião.\n")

	return Document{
		Title:       "Ata da Reunião",
		Markdown:    b.String(),
		Backend:     t.Name(),
		Segments:    len(segments),
		GeneratedAt: generated,
	}, nil
}

func participants(segments []transcript.Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segments {
		if s.Speaker == "" || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

// countKeywords returns the rules mentioned at least once, highest priority
// first, then most mentioned.
func countKeywords(rules []alert.Rule, segments []transcript.Segment) []keywordHits {
	var hits []keywordHits
	for _, r := range rules {
		n := 0
		for _, s := range segments {
			n += len(alert.FindKeyword(s.Text, r.Keyword))
		}
		if n > 0 {
			hits = append(hits, keywordHits{rule: r, count: n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rule.Priority != hits[j].rule.Priority {
			return hits[i].rule.Priority > hits[j].rule.Priority
		}
		return hits[i].count > hits[j].count
	})
	return hits
}
