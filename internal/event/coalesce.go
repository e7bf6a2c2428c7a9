package event

import "strings"

// Coalesce merges every string-only OutputEvent in events into a single
// OutputEvent appended after the remaining events, which keep their
// relative order. The merged event takes its common fields from the first
// fragment. The input slice is not modified.
func Coalesce(events []AgentEvent) []AgentEvent {
	out := make([]AgentEvent, 0, len(events))
	var (
		merged *OutputEvent
		text   strings.Builder
	)
	for _, ev := range events {
		o, ok := ev.(*OutputEvent)
		if !ok || !o.IsFragment() {
			out = append(out, ev)
			continue
		}
		if merged == nil {
			merged = &OutputEvent{Base: o.Base}
			merged.Type = TypeOutput
		}
		text.WriteString(o.StrResult)
	}
	if merged != nil {
		merged.StrResult = text.String()
		out = append(out, merged)
	}
	return out
}
