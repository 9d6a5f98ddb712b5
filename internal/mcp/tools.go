package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/board"
	"github.com/fyrsmithlabs/pdcad/internal/ledger"
	"github.com/fyrsmithlabs/pdcad/internal/orchestrator"
	"github.com/fyrsmithlabs/pdcad/internal/phase"
	"github.com/fyrsmithlabs/pdcad/internal/platform"
	"github.com/fyrsmithlabs/pdcad/internal/team"
)

func textResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

type delegateInput struct {
	Role            string `json:"role,omitempty" jsonschema:"Role to delegate to (may be omitted when continuing a session)"`
	Task            string `json:"task,omitempty" jsonschema:"Task description; empty with abort_session makes a standalone abort"`
	Background      bool   `json:"background,omitempty" jsonschema:"Return immediately with a job id instead of waiting"`
	Model           string `json:"model,omitempty" jsonschema:"Model override for this delegation"`
	CallerHandle    string `json:"caller_handle,omitempty" jsonschema:"Session handle of the delegating agent"`
	ContinueSession string `json:"continue_session,omitempty" jsonschema:"Existing session handle to continue"`
	AbortSession    string `json:"abort_session,omitempty" jsonschema:"Session handle to abort before delegating"`
}

type delegateOutput struct {
	JobID   string `json:"job_id,omitempty" jsonschema:"Job identifier for later status lookup"`
	Handle  string `json:"handle,omitempty" jsonschema:"Session handle of the delegation"`
	Status  string `json:"status" jsonschema:"Job status"`
	Message string `json:"message,omitempty" jsonschema:"Human-readable outcome"`
	Output  string `json:"output,omitempty" jsonschema:"Result text, possibly truncated"`
}

type delegateStatusInput struct {
	JobID string `json:"job_id" jsonschema:"required,Job identifier returned by delegate"`
}

func resultOutput(res *orchestrator.Result) delegateOutput {
	return delegateOutput{
		JobID:   res.JobID,
		Handle:  string(res.Handle),
		Status:  string(res.Status),
		Message: res.Message,
		Output:  res.Output,
	}
}

func (s *Server) registerDelegateTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delegate",
		Description: "Delegate a task to a role, synchronously or as a background job; also aborts or continues existing sessions",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args delegateInput) (*mcp.CallToolResult, delegateOutput, error) {
		res, err := s.orch.Delegate(ctx, args.Role, args.Task, orchestrator.Options{
			Background:      args.Background,
			Model:           args.Model,
			CallerHandle:    platform.Handle(args.CallerHandle),
			ContinueSession: platform.Handle(args.ContinueSession),
			AbortSession:    platform.Handle(args.AbortSession),
		})
		if err != nil {
			s.logger.Warn("delegate tool failed", zap.String("role", args.Role), zap.Error(err))
			return nil, delegateOutput{}, err
		}
		return textResult("%s", res.Message), resultOutput(res), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delegate_status",
		Description: "Look up a delegation job by id, returning its status and partial or final result text",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args delegateStatusInput) (*mcp.CallToolResult, delegateOutput, error) {
		res, err := s.orch.Status(ctx, args.JobID)
		if err != nil {
			return nil, delegateOutput{}, err
		}
		return textResult("job %s is %s", res.JobID, res.Status), resultOutput(res), nil
	})
}

type phaseUpdateInput struct {
	Feature  string `json:"feature,omitempty" jsonschema:"Feature name; resolved from the primary or sole active feature when omitted"`
	Phase    string `json:"phase" jsonschema:"required,Target phase (research plan design do check act completed archived)"`
	Document string `json:"document,omitempty" jsonschema:"Path of the phase document being started"`
	Override bool   `json:"override,omitempty" jsonschema:"Allow skipping forward past unmet phases"`
}

type phaseUpdateOutput struct {
	Feature string `json:"feature" jsonschema:"Resolved feature name"`
	Phase   string `json:"phase" jsonschema:"Feature phase after the update"`
}

// applyPhaseUpdate runs one explicit phase update as a single ledger
// batch: get, apply, save.
func (s *Server) applyPhaseUpdate(ctx context.Context, feature, phaseName, document string, override bool) (string, phase.Phase, error) {
	p, err := phase.Parse(phaseName)
	if err != nil {
		return "", "", err
	}

	snap, err := s.ledger.Get(ctx)
	if err != nil {
		return "", "", err
	}
	resolved, err := snap.ApplyPhaseTransition(feature, p, ledger.SourceManual, ledger.TransitionOptions{Override: override})
	if err != nil {
		return resolved, "", err
	}
	if document != "" {
		if _, err := snap.ApplyDocument(resolved, phase.DocTypeForPhase(p), document); err != nil {
			return resolved, "", err
		}
	}
	if err := s.ledger.Save(ctx, snap); err != nil {
		return resolved, "", err
	}
	return resolved, snap.Features[resolved].Phase, nil
}

func (s *Server) registerPhaseTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "phase_update",
		Description: "Record an explicit phase transition for a feature, optionally with the phase document being started",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args phaseUpdateInput) (*mcp.CallToolResult, phaseUpdateOutput, error) {
		resolved, current, err := s.applyPhaseUpdate(ctx, args.Feature, args.Phase, args.Document, args.Override)
		if err != nil {
			return nil, phaseUpdateOutput{}, err
		}
		return textResult("feature %s is now in %s", resolved, current),
			phaseUpdateOutput{Feature: resolved, Phase: string(current)}, nil
	})
}

type boardCreateInput struct {
	Title       string   `json:"title" jsonschema:"required,Task title"`
	Description string   `json:"description,omitempty" jsonschema:"Task description"`
	BlockedBy   []string `json:"blocked_by,omitempty" jsonschema:"Ids of tasks that must complete first"`
	Assignee    string   `json:"assignee,omitempty" jsonschema:"Initial assignee; rejected when the task is blocked"`
}

type boardItemOutput struct {
	ID        string   `json:"id" jsonschema:"Task id"`
	Title     string   `json:"title" jsonschema:"Task title"`
	Status    string   `json:"status" jsonschema:"Task status"`
	Assignee  string   `json:"assignee,omitempty" jsonschema:"Current assignee"`
	BlockedBy []string `json:"blocked_by,omitempty" jsonschema:"Remaining blockers"`
	Result    string   `json:"result,omitempty" jsonschema:"Completion result"`
}

type boardUpdateInput struct {
	ID       string `json:"id" jsonschema:"required,Task id"`
	Status   string `json:"status,omitempty" jsonschema:"New status (pending in_progress completed failed)"`
	Assignee string `json:"assignee,omitempty" jsonschema:"New assignee"`
}

type boardCompleteInput struct {
	ID     string `json:"id" jsonschema:"required,Task id"`
	Result string `json:"result,omitempty" jsonschema:"Completion result text"`
}

func itemOutput(item *board.Item) boardItemOutput {
	return boardItemOutput{
		ID:        item.ID,
		Title:     item.Title,
		Status:    string(item.Status),
		Assignee:  item.Assignee,
		BlockedBy: item.BlockedBy,
		Result:    item.Result,
	}
}

func (s *Server) registerBoardTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "board_create",
		Description: "Create a task on the shared board, optionally blocked by other tasks",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args boardCreateInput) (*mcp.CallToolResult, boardItemOutput, error) {
		item, err := s.board.Create(ctx, args.Title, board.CreateOptions{
			Description: args.Description,
			BlockedBy:   args.BlockedBy,
			Assignee:    args.Assignee,
		})
		if err != nil {
			return nil, boardItemOutput{}, err
		}
		return textResult("task %s created", item.ID), itemOutput(item), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "board_update",
		Description: "Update a board task's status or assignee",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args boardUpdateInput) (*mcp.CallToolResult, boardItemOutput, error) {
		opts := board.UpdateOptions{}
		if args.Status != "" {
			st := board.Status(args.Status)
			opts.Status = &st
		}
		if args.Assignee != "" {
			opts.Assignee = &args.Assignee
		}
		item, err := s.board.Update(ctx, args.ID, opts)
		if err != nil {
			return nil, boardItemOutput{}, err
		}
		return textResult("task %s updated", item.ID), itemOutput(item), nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "board_complete",
		Description: "Complete a board task, unblocking its dependents",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args boardCompleteInput) (*mcp.CallToolResult, boardItemOutput, error) {
		item, err := s.board.Complete(ctx, args.ID, args.Result)
		if err != nil {
			return nil, boardItemOutput{}, err
		}
		return textResult("task %s completed", item.ID), itemOutput(item), nil
	})
}

type mailSendInput struct {
	From    string `json:"from" jsonschema:"required,Sending role"`
	To      string `json:"to" jsonschema:"required,Recipient role"`
	Content string `json:"content" jsonschema:"required,Message body"`
}

type mailSendOutput struct {
	ID string `json:"id" jsonschema:"Message id"`
}

type mailCheckInput struct {
	Recipient string `json:"recipient" jsonschema:"required,Role whose unread mail to fetch"`
}

type mailMessageOutput struct {
	ID      string `json:"id" jsonschema:"Message id"`
	Sender  string `json:"sender" jsonschema:"Sending role"`
	Content string `json:"content" jsonschema:"Message body"`
	SentAt  string `json:"sent_at" jsonschema:"Send time, RFC 3339"`
}

type mailCheckOutput struct {
	Messages []mailMessageOutput `json:"messages" jsonschema:"Unread messages, now marked read"`
	Count    int                 `json:"count" jsonschema:"Number of messages returned"`
}

type teamStatusInput struct{}

type teammateOutput struct {
	Name   string `json:"name" jsonschema:"Teammate name"`
	Role   string `json:"role" jsonschema:"Teammate role"`
	Status string `json:"status" jsonschema:"Lifecycle status"`
	Task   string `json:"task,omitempty" jsonschema:"Current task"`
	JobID  string `json:"job_id,omitempty" jsonschema:"Associated job id"`
}

type teamStatusOutput struct {
	Teammates []teammateOutput   `json:"teammates" jsonschema:"All known teammates"`
	Mail      []team.MailSummary `json:"mail,omitempty" jsonschema:"Per-recipient mailbox counts"`
}

func (s *Server) registerTeamTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "mail_send",
		Description: "Send a message to another role's mailbox",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mailSendInput) (*mcp.CallToolResult, mailSendOutput, error) {
		msg, err := s.mailbox.Send(ctx, args.From, args.To, args.Content)
		if err != nil {
			return nil, mailSendOutput{}, err
		}
		return textResult("message delivered to %s", args.To), mailSendOutput{ID: msg.ID}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "mail_check",
		Description: "Fetch and mark read all unread messages for a role",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mailCheckInput) (*mcp.CallToolResult, mailCheckOutput, error) {
		msgs, err := s.mailbox.ReceiveUnread(ctx, args.Recipient)
		if err != nil {
			return nil, mailCheckOutput{}, err
		}
		out := mailCheckOutput{Count: len(msgs)}
		for _, m := range msgs {
			out.Messages = append(out.Messages, mailMessageOutput{
				ID:      m.ID,
				Sender:  m.Sender,
				Content: m.Content,
				SentAt:  m.SentAt.Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		return textResult("%d unread message(s)", out.Count), out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "team_status",
		Description: "List all teammates with their status, plus mailbox summaries",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args teamStatusInput) (*mcp.CallToolResult, teamStatusOutput, error) {
		list, err := s.teamDir.List(ctx)
		if err != nil {
			return nil, teamStatusOutput{}, err
		}
		out := teamStatusOutput{}
		for _, tm := range list {
			out.Teammates = append(out.Teammates, teammateOutput{
				Name:   tm.Name,
				Role:   tm.Role,
				Status: string(tm.Status),
				Task:   tm.Task,
				JobID:  tm.JobID,
			})
		}
		if summary, err := s.mailbox.ListSummary(ctx); err == nil {
			out.Mail = summary
		}
		return textResult("%d teammate(s)", len(out.Teammates)), out, nil
	})
}
