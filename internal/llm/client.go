// Package llm provides the reasoning collaborator: thin HTTP clients for
// Anthropic and OpenAI completion APIs, plus the structured-output contracts
// the orchestration loop consumes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/loopd/internal/config"
)

// ErrReasoningFailed marks a reasoning call that failed permanently, after
// the client's own retry policy was exhausted or because the model returned
// an unusable result.
var ErrReasoningFailed = errors.New("reasoning failed")

// Client is a prompt-in, text-out completion client.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// New builds a provider client from configuration.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

const baseBackoff = 1 * time.Second

func newHTTPClient(cfg config.LLMConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout.Duration()}
}

func newLimiter(cfg config.LLMConfig) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
