package gateway

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one literal substitution applied to response text.
type Rule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DefaultRules are the built-in marketing substitutions applied when no
// rules file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{From: "Powered by OpenAI", To: "Powered by ChatGate"},
		{From: "powered by OpenAI", To: "powered by ChatGate"},
	}
}

// LoadRules reads substitution rules from a YAML file shaped as
// {rules: [{from: ..., to: ...}]}. An empty path yields the defaults.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rewrite rules: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rewrite rules: %w", err)
	}
	return doc.Rules, nil
}

// CheckModel gates the requested model name against the public display name.
func CheckModel(requested, display string) *Error {
	if requested == display && display != "" {
		return nil
	}
	return newError(http.StatusBadRequest, CodeInvalidModel,
		fmt.Sprintf("model %q is not available, use %q", requested, display)).
		With("type", "invalid_request_error")
}

// Rewriter performs the reverse lexical substitution on response text: the
// actual model id becomes the display name, then the configured rules run in
// order. The replacement is a plain substring pass over the raw payload, so
// unrelated text containing these substrings is rewritten too.
type Rewriter struct {
	pairs []Rule
}

// NewRewriter builds the ordered substitution list for one request.
func NewRewriter(actual, display string, rules []Rule) *Rewriter {
	pairs := make([]Rule, 0, len(rules)+1)
	if actual != "" && actual != display {
		pairs = append(pairs, Rule{From: actual, To: display})
	}
	pairs = append(pairs, rules...)
	return &Rewriter{pairs: pairs}
}

// Rewrite applies all substitutions to a byte chunk.
func (r *Rewriter) Rewrite(b []byte) []byte {
	for _, p := range r.pairs {
		b = bytes.ReplaceAll(b, []byte(p.From), []byte(p.To))
	}
	return b
}

// RewriteString applies all substitutions to a string.
func (r *Rewriter) RewriteString(s string) string {
	for _, p := range r.pairs {
		s = strings.ReplaceAll(s, p.From, p.To)
	}
	return s
}
