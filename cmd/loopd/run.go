package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

var (
	runConversation string
	runSideContext  string
	runSimple       bool
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run a single query and print the result",
	Long: `Run one orchestration from the terminal. Commands that require
approval prompt interactively on stdin.

Examples:
  # One-shot query
  loopd run "summarize the failing tests"

  # Continue an existing conversation
  loopd run --conversation deploy-review "now roll it back"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runConversation, "conversation", "", "conversation identity (generated when absent)")
	runCmd.Flags().StringVar(&runSideContext, "context", "", "extra free-text context for the reasoner")
	runCmd.Flags().BoolVar(&runSimple, "simple", false, "skip the analysis and planning passes")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	deps, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer deps.logger.Sync()

	conversationID := runConversation
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	opts := orchestrator.Options{
		SideContext: runSideContext,
		Simple:      runSimple,
		Approver:    stdinApprover(cmd),
		OnIteration: func(iteration int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "-- iteration %d\n", iteration)
		},
	}

	result, err := deps.orchestrator.Run(cmd.Context(), conversationID, args[0], opts)
	if err != nil {
		return err
	}

	printResult(cmd, conversationID, result)
	return nil
}

// stdinApprover prompts on stderr and reads a y/N answer from stdin.
// Anything but an explicit yes is a denial.
func stdinApprover(cmd *cobra.Command) orchestrator.Approver {
	reader := bufio.NewReader(cmd.InOrStdin())
	return func(_ context.Context, command, rationale string) bool {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nProposed command: %s\n", command)
		if rationale != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Rationale: %s\n", rationale)
		}
		fmt.Fprint(cmd.ErrOrStderr(), "Approve? [y/N] ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func printResult(cmd *cobra.Command, conversationID string, result *orchestrator.Result) {
	out := cmd.OutOrStdout()

	for i, turn := range result.Turns {
		fmt.Fprintf(out, "[turn %d] %s\n", i+1, turn.Kind)
		switch turn.Kind {
		case orchestrator.KindPlainResponse:
			fmt.Fprintln(out, turn.Plain.Text)
			for _, q := range turn.Plain.FollowUpQuestions {
				fmt.Fprintf(out, "  ? %s\n", q)
			}
		case orchestrator.KindCodeGeneration:
			fmt.Fprintf(out, "```%s\n%s\n```\n", turn.Code.Language, turn.Code.Code)
			if turn.Code.Explanation != "" {
				fmt.Fprintln(out, turn.Code.Explanation)
			}
		case orchestrator.KindTerminalCommand:
			fmt.Fprintf(out, "$ %s\n", turn.Command.Command)
		}
		for _, item := range turn.MissingContext {
			fmt.Fprintf(out, "  missing: %s\n", item)
		}
	}

	fmt.Fprintf(out, "\nconversation: %s (%d iterations)\n", conversationID, result.Iterations)
}
