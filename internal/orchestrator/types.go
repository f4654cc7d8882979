// Package orchestrator drives a single conversational task to completion:
// it optionally analyzes and plans, then iterates reasoning turns, dispatching
// side effects (shell commands behind approval, code generation) and recording
// every turn into memory and the scratchpad.
package orchestrator

import (
	"context"
)

// TurnKind discriminates the branches of a turn response.
type TurnKind string

const (
	KindPlainResponse   TurnKind = "plain_response"
	KindCodeGeneration  TurnKind = "code_generation"
	KindTerminalCommand TurnKind = "terminal_command"
)

// Priority grades an analyzed query. High and critical trigger planning.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PlainResponse is a direct answer with no side effect.
type PlainResponse struct {
	Text              string   `json:"text"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

// CodeGeneration carries a generated snippet and its explanation.
type CodeGeneration struct {
	Language    string `json:"language"`
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
}

// TerminalCommand proposes a shell command for the dispatcher to run.
type TerminalCommand struct {
	Command          string `json:"command"`
	Rationale        string `json:"rationale,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
}

// TurnResponse is the tagged union returned by one reasoning turn. Exactly
// the pointer matching Kind is populated.
type TurnResponse struct {
	Kind           TurnKind         `json:"kind"`
	Continue       bool             `json:"continue"`
	MissingContext []string         `json:"missing_context,omitempty"`
	Plain          *PlainResponse   `json:"plain,omitempty"`
	Code           *CodeGeneration  `json:"code,omitempty"`
	Command        *TerminalCommand `json:"command,omitempty"`
}

// Analysis is the structured result of the complexity pass.
type Analysis struct {
	Summary  string   `json:"summary"`
	Intent   string   `json:"intent"`
	Approach string   `json:"approach"`
	Priority Priority `json:"priority"`
	Urgent   bool     `json:"urgent"`
}

// PlanStep is one ordered step of a generated plan.
type PlanStep struct {
	Description string `json:"description"`
	Rationale   string `json:"rationale,omitempty"`
}

// PlanResult is the structured result of the planning pass.
type PlanResult struct {
	Steps          []PlanStep `json:"steps"`
	MissingContext []string   `json:"missing_context,omitempty"`
}

// Reasoner is the external reasoning collaborator. Each call fails only
// after the collaborator's own retry policy is exhausted.
type Reasoner interface {
	Analyze(ctx context.Context, query, payload string) (*Analysis, error)
	Plan(ctx context.Context, query, payload string) (*PlanResult, error)
	Turn(ctx context.Context, query, payload string) (*TurnResponse, error)
}

// Executor runs a shell command and captures its result. A non-zero exit
// is not an error.
type Executor interface {
	Execute(ctx context.Context, command string) (ExecResult, error)
}

// ExecResult is the captured outcome of one command execution.
type ExecResult struct {
	Output   string
	ExitCode int
}

// Approver answers whether a proposed command may run. A nil Approver in
// Options means every approval-required command is denied.
type Approver func(ctx context.Context, command, rationale string) bool

// Options tunes a single Run invocation.
type Options struct {
	// SideContext is caller-supplied free text appended to every turn's
	// context payload.
	SideContext string
	// Approver gates approval-required commands. Nil means auto-deny.
	Approver Approver
	// OnIteration is called before each reasoning turn with the 1-based
	// iteration number.
	OnIteration func(iteration int)
	// OnTurn is called after each turn is recorded.
	OnTurn func(iteration int, resp *TurnResponse)
	// Simple skips the analyzing and planning passes.
	Simple bool
}

// Result is the outcome of one Run invocation.
type Result struct {
	Turns      []*TurnResponse
	Analysis   *Analysis
	Plan       *PlanResult
	Iterations int
}
