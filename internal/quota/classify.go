// Package quota decides which requests consume daily quota and performs the
// atomic check-and-increment against the configured backend.
package quota

// Countable reports whether a chat payload should consume one unit of daily
// quota. Only a genuine new end-user turn counts: the last message must have
// role "user", and if its content is a block list, none of the blocks may be
// a tool_result (those are continuations of an earlier turn, not new ones).
func Countable(payload map[string]any) bool {
	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) == 0 {
		return false
	}
	last, ok := messages[len(messages)-1].(map[string]any)
	if !ok {
		return false
	}
	role, _ := last["role"].(string)
	if role != "user" {
		return false
	}
	switch content := last["content"].(type) {
	case string:
		return true
	case []any:
		for _, raw := range content {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if blockType, _ := block["type"].(string); blockType == "tool_result" {
				return false
			}
		}
		return true
	default:
		// Missing or unrecognized content still reads as a user turn.
		return true
	}
}
