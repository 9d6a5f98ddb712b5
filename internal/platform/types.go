package platform

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Handle identifies a single agent session on the host platform. It is
// opaque to this process; only the platform can interpret it.
type Handle string

// Liveness reports whether a session is still producing output.
type Liveness string

const (
	LivenessActive  Liveness = "active"
	LivenessIdle    Liveness = "idle"
	LivenessUnknown Liveness = "unknown"
)

// Turn roles as they appear in transcripts.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is a tool invocation recorded in a transcript turn.
type ToolCall struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
	Result string            `json:"result,omitempty"`
}

// Turn is a single entry in a session transcript.
type Turn struct {
	Role      string     `json:"role"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`

	// Finished marks the terminal turn of a completed session. Only
	// assistant turns carry it.
	Finished bool `json:"finished,omitempty"`
}

// Transcript is the ordered turn history of one session.
type Transcript struct {
	Handle Handle `json:"handle"`
	Turns  []Turn `json:"turns"`
}

// LastUser returns the most recent user turn, or nil.
func (t *Transcript) LastUser() *Turn {
	return t.last(RoleUser)
}

// LastAssistant returns the most recent assistant turn, or nil.
func (t *Transcript) LastAssistant() *Turn {
	return t.last(RoleAssistant)
}

func (t *Transcript) last(role string) *Turn {
	for i := len(t.Turns) - 1; i >= 0; i-- {
		if t.Turns[i].Role == role {
			return &t.Turns[i]
		}
	}
	return nil
}

// Completed reports whether the session finished its work: the last
// assistant turn carries the finish marker and was produced strictly
// after the last user turn. An idle session without this marker may
// merely be between tool calls.
func (t *Transcript) Completed() bool {
	a := t.LastAssistant()
	if a == nil || !a.Finished {
		return false
	}
	u := t.LastUser()
	if u == nil {
		return true
	}
	return a.Timestamp.After(u.Timestamp)
}

// AssistantText joins the text of all assistant turns in order.
func (t *Transcript) AssistantText() string {
	var parts []string
	for _, turn := range t.Turns {
		if turn.Role == RoleAssistant && turn.Text != "" {
			parts = append(parts, turn.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TailText returns the assistant text truncated to at most max bytes,
// keeping the tail since the conclusion matters more than the preamble.
// The cut lands on a rune boundary so the result stays valid UTF-8.
func (t *Transcript) TailText(max int) string {
	s := t.AssistantText()
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// Client is the host-platform surface the engine consumes. Implementations
// must be safe for concurrent use.
type Client interface {
	// CreateSession spawns a new session under parent and returns its handle.
	CreateSession(ctx context.Context, parent Handle, title string) (Handle, error)

	// DispatchPrompt sends a prompt into an existing session. model may be
	// empty to use the platform default.
	DispatchPrompt(ctx context.Context, handle Handle, role, content, model string) error

	// FetchTranscript returns the session's turn history so far.
	FetchTranscript(ctx context.Context, handle Handle) (*Transcript, error)

	// PollLiveness reports per-handle liveness for the given handles.
	// Handles the platform no longer knows are reported as LivenessUnknown.
	PollLiveness(ctx context.Context, handles []Handle) (map[Handle]Liveness, error)

	// Abort terminates a session. Aborting an already-terminated session
	// is not an error.
	Abort(ctx context.Context, handle Handle) error
}
