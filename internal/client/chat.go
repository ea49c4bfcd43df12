// Package client provides the HTTP client used by the interactive chat
// command to talk to the gateway.
package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// ChatMessage is one turn in the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload sent to the gateway.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatChoice is one completion alternative in a response.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage reports token accounting from the upstream.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a buffered chat completion.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int          `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// streamChunk is one SSE frame of a streamed completion.
type streamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int    `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage ChatUsage `json:"usage"`
}

// errorEnvelope mirrors the gateway's JSON error body.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ChatClient talks to the gateway's chat-completion endpoint.
type ChatClient struct {
	BaseURL    string
	Key        string
	HTTPClient *http.Client
}

// ChatOptions configures one chat request.
type ChatOptions struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	UseStreaming bool
	VerboseMode  bool
}

// NewChatClient creates a client for the gateway at baseURL using the given
// access key.
func NewChatClient(baseURL, key string) *ChatClient {
	return &ChatClient{
		BaseURL: baseURL,
		Key:     key,
		HTTPClient: &http.Client{
			// Matches the gateway's own upstream ceiling.
			Timeout: 120 * time.Second,
		},
	}
}

// SendChatRequest sends the conversation to the gateway and returns the
// completed response. Streamed deltas are echoed to rl's stdout as they
// arrive.
func (c *ChatClient) SendChatRequest(messages []ChatMessage, options ChatOptions, rl *readline.Instance) (*ChatResponse, error) {
	if c.Key == "" {
		return nil, fmt.Errorf("access key is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}

	request := ChatRequest{
		Model:       options.Model,
		Messages:    messages,
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
		Stream:      options.UseStreaming,
	}
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if options.VerboseMode {
		fmt.Printf("Request: %s\n", string(jsonData))
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Key)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close response body: %v\n", err)
		}
	}()

	if resp.StatusCode >= 400 {
		return nil, gatewayError(resp)
	}

	if options.UseStreaming {
		return c.handleStreamingResponse(resp, rl, options.VerboseMode)
	}
	return c.handleNonStreamingResponse(resp, options.VerboseMode)
}

// gatewayError turns an error response into a readable error, preferring the
// gateway's structured envelope over the raw body.
func gatewayError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		if envelope.Message != "" {
			return fmt.Errorf("gateway error %d (%s): %s", resp.StatusCode, envelope.Error, envelope.Message)
		}
		return fmt.Errorf("gateway error %d (%s)", resp.StatusCode, envelope.Error)
	}
	return fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(body))
}

// handleStreamingResponse consumes the SSE stream, echoing deltas as they
// arrive and accumulating the full assistant message.
func (c *ChatClient) handleStreamingResponse(resp *http.Response, rl *readline.Instance, verbose bool) (*ChatResponse, error) {
	scanner := bufio.NewScanner(resp.Body)
	var finalResponse *ChatResponse

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if verbose {
				fmt.Printf("Failed to parse stream data: %v\n", err)
			}
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			writeStreamOutput(rl, choice.Delta.Content)
		}

		if finalResponse == nil {
			finalResponse = &ChatResponse{
				ID:      chunk.ID,
				Object:  chunk.Object,
				Created: chunk.Created,
				Model:   chunk.Model,
				Choices: []ChatChoice{{
					Index:   choice.Index,
					Message: ChatMessage{Role: "assistant"},
				}},
				Usage: chunk.Usage,
			}
		}
		finalResponse.Choices[0].Message.Content += choice.Delta.Content
		if choice.FinishReason != "" {
			finalResponse.Choices[0].FinishReason = choice.FinishReason
		}
	}
	writeStreamOutput(rl, "\n")

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream reading error: %w", err)
	}
	if finalResponse == nil {
		return nil, fmt.Errorf("no response received from stream")
	}
	return finalResponse, nil
}

// handleNonStreamingResponse parses a buffered completion.
func (c *ChatClient) handleNonStreamingResponse(resp *http.Response, verbose bool) (*ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if verbose {
		fmt.Printf("Response: %s\n", string(body))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// writeStreamOutput writes through readline's stdout when available so the
// prompt redraw stays consistent.
func writeStreamOutput(rl *readline.Instance, s string) {
	if rl != nil && rl.Config.Stdout != nil {
		if _, err := rl.Config.Stdout.Write([]byte(s)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write streaming content: %v\n", err)
		}
		return
	}
	fmt.Print(s)
}
