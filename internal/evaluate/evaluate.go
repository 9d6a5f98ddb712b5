// Package evaluate scores phase documents through an external evaluator.
// Evaluation is advisory: a broken evaluator, unreadable output, or a
// missing score all count as a pass, because a review aid must never
// block the workflow it reviews.
package evaluate

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// Runner produces raw evaluator output for a document. Typically backed
// by a delegated evaluator session.
type Runner interface {
	Evaluate(ctx context.Context, docPath string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, docPath string) (string, error)

func (f RunnerFunc) Evaluate(ctx context.Context, docPath string) (string, error) {
	return f(ctx, docPath)
}

// Result is the outcome of one document evaluation.
type Result struct {
	// Score is the 0-100 evaluator score. Meaningful only when Scored.
	Score int
	// Scored reports whether a score could be extracted at all.
	Scored bool
	// Passed is the advisory verdict.
	Passed bool
}

// Config holds evaluator settings.
type Config struct {
	// PassThreshold is the minimum score counted as a pass.
	PassThreshold int
}

// DefaultConfig returns the default evaluator settings.
func DefaultConfig() Config {
	return Config{PassThreshold: 70}
}

// Evaluator runs advisory document checks.
type Evaluator struct {
	config Config
	runner Runner
	logger *zap.Logger
}

// New creates an evaluator. runner may be nil, in which case every
// check passes unscored.
func New(cfg Config, runner Runner, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = DefaultConfig().PassThreshold
	}
	return &Evaluator{config: cfg, runner: runner, logger: logger}
}

// Check evaluates one document. It never returns an error: every
// failure path degrades to a pass.
func (e *Evaluator) Check(ctx context.Context, docPath string) Result {
	pass := Result{Passed: true}
	if e.runner == nil {
		return pass
	}

	output, err := e.runner.Evaluate(ctx, docPath)
	if err != nil {
		e.logger.Debug("evaluator run failed, treating as pass",
			zap.String("doc", docPath), zap.Error(err))
		return pass
	}

	score, ok := parseScore(output)
	if !ok {
		e.logger.Debug("evaluator output had no score, treating as pass",
			zap.String("doc", docPath))
		return pass
	}

	return Result{
		Score:  score,
		Scored: true,
		Passed: score >= e.config.PassThreshold,
	}
}

var scoreLine = regexp.MustCompile(`(?i)\bscore\s*[:=]\s*(\d{1,3})\b`)

// parseScore extracts a 0-100 score from evaluator output, accepting
// either a JSON object with a "score" field or a "score: N" line.
func parseScore(output string) (int, bool) {
	var payload struct {
		Score *int `json:"score"`
	}
	if err := json.Unmarshal([]byte(output), &payload); err == nil && payload.Score != nil {
		return clamp(*payload.Score), true
	}

	m := scoreLine.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return clamp(n), true
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
