package quota

import (
	"encoding/json"
	"testing"
)

func TestCountable(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "plain user turn",
			body: `{"messages":[{"role":"user","content":"hi"}]}`,
			want: true,
		},
		{
			name: "user turn after assistant reply",
			body: `{"messages":[{"role":"assistant","content":"hello"},{"role":"user","content":"more"}]}`,
			want: true,
		},
		{
			name: "assistant continuation",
			body: `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`,
			want: false,
		},
		{
			name: "tool result turn",
			body: `{"messages":[{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"42"}]}]}`,
			want: false,
		},
		{
			name: "mixed blocks with tool result",
			body: `{"messages":[{"role":"user","content":[{"type":"text","text":"here"},{"type":"tool_result","tool_use_id":"t1"}]}]}`,
			want: false,
		},
		{
			name: "block list without tool result",
			body: `{"messages":[{"role":"user","content":[{"type":"text","text":"describe this"},{"type":"image","source":{}}]}]}`,
			want: true,
		},
		{
			name: "empty message list",
			body: `{"messages":[]}`,
			want: false,
		},
		{
			name: "no messages field",
			body: `{"prompt":"legacy completion"}`,
			want: false,
		},
		{
			name: "user turn without content",
			body: `{"messages":[{"role":"user"}]}`,
			want: true,
		},
		{
			name: "system role last",
			body: `{"messages":[{"role":"system","content":"be brief"}]}`,
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload map[string]any
			if err := json.Unmarshal([]byte(tt.body), &payload); err != nil {
				t.Fatalf("bad test payload: %v", err)
			}
			if got := Countable(payload); got != tt.want {
				t.Errorf("Countable() = %v, want %v", got, tt.want)
			}
		})
	}
}
