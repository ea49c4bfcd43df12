// chatgate is the access-controlled forwarding gateway for chat-completion
// APIs, plus its management API and an interactive chat client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Access-controlled gateway for chat-completion APIs",
	Long: `chatgate sits in front of a chat-completion API and enforces
per-key authentication, daily quotas, model naming policy and
system-prompt injection before forwarding requests upstream.`,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
