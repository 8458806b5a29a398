package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/nudge/cmd/nudgectl/commands"
)

func main() {
	_ = godotenv.Load()

	var rootCmd = &cobra.Command{
		Use:          "nudgectl",
		Short:        "Operator tool for the nudge daemon",
		Long:         "CLI tool for triggering conversations, inspecting stored state and printing the effective policy",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(commands.NewTriggerCmd())
	rootCmd.AddCommand(commands.NewStateCmd())
	rootCmd.AddCommand(commands.NewPolicyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
