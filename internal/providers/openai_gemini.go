package providers

// collapseToolCallsWithoutSig drops tool_call/tool_result cycles that are
// missing a thought_signature, which Gemini 2.5+ requires on every replayed
// tool_call. Conversation history recorded before thought_signature capture
// was added has none, and resending it verbatim gets a 400 back; collapsing
// keeps the assistant's narration while dropping the unreplayable call.
func collapseToolCallsWithoutSig(msgs []Message) []Message {
	unsigned := unsignedToolCallIDs(msgs)
	if len(unsigned) == 0 {
		return msgs
	}

	out := make([]Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == "assistant" && len(m.ToolCalls) > 0 && unsigned[m.ToolCalls[0].ID] {
			if m.Content != "" {
				out = append(out, Message{Role: "assistant", Content: m.Content})
			}
			i += skipMatchingToolResults(msgs[i+1:], unsigned)
			continue
		}
		if m.Role == "tool" && unsigned[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// unsignedToolCallIDs returns the set of tool_call IDs belonging to any
// assistant turn where at least one call in that turn lacks a signature.
// Gemini's tool_calls array is all-or-nothing: a partially-signed turn is
// just as unreplayable as a fully-unsigned one, so the whole turn collapses.
func unsignedToolCallIDs(msgs []Message) map[string]bool {
	ids := make(map[string]bool)
	for _, m := range msgs {
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		turnNeedsCollapse := false
		for _, tc := range m.ToolCalls {
			if tc.Metadata["thought_signature"] == "" {
				turnNeedsCollapse = true
				break
			}
		}
		if turnNeedsCollapse {
			for _, tc := range m.ToolCalls {
				ids[tc.ID] = true
			}
		}
	}
	return ids
}

// skipMatchingToolResults counts how many leading "tool" messages in rest
// correspond to a collapsed turn, so the caller's loop index can jump past
// them along with their now-removed assistant message.
func skipMatchingToolResults(rest []Message, unsigned map[string]bool) int {
	n := 0
	for n < len(rest) && rest[n].Role == "tool" && unsigned[rest[n].ToolCallID] {
		n++
	}
	return n
}
