package stream

import (
	"context"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/metrics"
)

// EventSink publishes alert evaluations on the bus.
func EventSink(bus *events.Bus) alert.SinkFunc {
	return func(_ context.Context, ev alert.Evaluation) error {
		bus.Publish(events.AlertEvaluation, ev)
		return nil
	}
}

// MetricsSink counts matches and triggers by priority.
func MetricsSink(m *metrics.Metrics) alert.SinkFunc {
	return func(_ context.Context, ev alert.Evaluation) error {
		for _, match := range ev.Matches {
			m.RecordAlertMatch(match.Priority.String())
		}
		if ev.Trigger != nil {
			m.RecordAlertTrigger(ev.Trigger.Rule.Priority.String())
		}
		return nil
	}
}

// PublishRuleChanges forwards registry changes to the bus and keeps the
// rule count gauge current. Either bus or m may be nil.
func PublishRuleChanges(registry *alert.Registry, bus *events.Bus, m *metrics.Metrics) {
	if m != nil {
		m.SetAlertRules(registry.Len())
	}
	registry.OnChange(func(change alert.Change) {
		if m != nil {
			m.SetAlertRules(registry.Len())
		}
		if bus != nil {
			bus.Publish(events.RuleChanged, change)
		}
	})
}
