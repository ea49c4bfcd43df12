package main

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/chatgate/chatgate/internal/client"
)

// Chat command flags
var (
	gatewayURL   string
	accessKey    string
	model        string
	temperature  float64
	maxTokens    int
	verboseMode  bool
	useStreaming bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat through the gateway",
	Long:  `Start an interactive chat session against a running gateway.`,
	Run:   runChat,
}

func init() {
	chatCmd.Flags().StringVar(&gatewayURL, "gateway", "http://localhost:8080", "Gateway URL")
	chatCmd.Flags().StringVar(&accessKey, "key", "", "Gateway access key")
	chatCmd.Flags().StringVar(&model, "model", "", "Model to request (the configured display name)")
	chatCmd.Flags().Float64Var(&temperature, "temperature", 0.7, "Temperature for generation")
	chatCmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens to generate (0 = no limit)")
	chatCmd.Flags().BoolVarP(&verboseMode, "verbose", "v", false, "Show request payloads and token usage")
	chatCmd.Flags().BoolVar(&useStreaming, "stream", true, "Use streaming for responses")

	for _, flag := range []string{"key", "model"} {
		if err := chatCmd.MarkFlagRequired(flag); err != nil {
			log.Printf("Warning: could not mark %q flag as required: %v", flag, err)
		}
	}
}

func runChat(cmd *cobra.Command, args []string) {
	fmt.Println("Starting chat session with", model)
	if useStreaming {
		fmt.Println("Streaming mode enabled")
	}
	fmt.Println("Type 'exit' or 'quit' to end the session")
	fmt.Println()

	// The gateway injects the configured system prompt; the client only
	// sends user and assistant turns.
	var messages []client.ChatMessage

	rl, err := readline.New("> ")
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer func() {
		if err := rl.Close(); err != nil {
			fmt.Printf("Error closing readline: %v\n", err)
		}
	}()

	for {
		input, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(input) == 0 {
				fmt.Println("Ending chat session")
				break
			}
			continue
		} else if err == io.EOF {
			fmt.Println("Ending chat session")
			break
		} else if err != nil {
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "exit" || input == "quit" {
			fmt.Println("Ending chat session")
			break
		}
		if input == "" {
			continue
		}

		messages = append(messages, client.ChatMessage{Role: "user", Content: input})

		response, err := getChatResponse(messages, rl)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		if len(response.Choices) == 0 {
			fmt.Println("No response from model")
			continue
		}

		assistantMessage := response.Choices[0].Message
		messages = append(messages, assistantMessage)

		// Streamed content has already been echoed while arriving.
		if !useStreaming {
			fmt.Println(assistantMessage.Content)
		}

		if verboseMode {
			grey := func(s string) string { return "\033[90m" + s + "\033[0m" }
			if response.Usage.TotalTokens > 0 {
				fmt.Printf("\n%s\n\n", grey(fmt.Sprintf("[Tokens: %d prompt, %d completion, %d total]",
					response.Usage.PromptTokens,
					response.Usage.CompletionTokens,
					response.Usage.TotalTokens)))
			} else if useStreaming {
				fmt.Printf("\n%s\n\n", grey("[Token counts not available in streaming mode]"))
			}
		}
	}
}

func getChatResponse(messages []client.ChatMessage, rl *readline.Instance) (*client.ChatResponse, error) {
	if accessKey == "" {
		return nil, fmt.Errorf("access key is required")
	}
	if gatewayURL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}

	chatClient := client.NewChatClient(gatewayURL, accessKey)
	options := client.ChatOptions{
		Model:        model,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		UseStreaming: useStreaming,
		VerboseMode:  verboseMode,
	}
	return chatClient.SendChatRequest(messages, options, rl)
}
