// Package mcp exposes the engine to agents as MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/board"
	"github.com/fyrsmithlabs/pdcad/internal/ledger"
	"github.com/fyrsmithlabs/pdcad/internal/orchestrator"
	"github.com/fyrsmithlabs/pdcad/internal/team"
)

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "pdcad").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "pdcad",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// Server wires the engine's services into MCP tools.
type Server struct {
	mcp     *mcp.Server
	orch    *orchestrator.Orchestrator
	ledger  *ledger.Store
	board   *board.Board
	mailbox *team.Mailbox
	teamDir *team.Directory
	logger  *zap.Logger
}

// NewServer creates the MCP server with the given services.
func NewServer(
	cfg *Config,
	orch *orchestrator.Orchestrator,
	ledgerStore *ledger.Store,
	taskBoard *board.Board,
	mailbox *team.Mailbox,
	teamDir *team.Directory,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if ledgerStore == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if taskBoard == nil {
		return nil, fmt.Errorf("task board is required")
	}
	if mailbox == nil {
		return nil, fmt.Errorf("mailbox is required")
	}
	if teamDir == nil {
		return nil, fmt.Errorf("team directory is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		orch:    orch,
		ledger:  ledgerStore,
		board:   taskBoard,
		mailbox: mailbox,
		teamDir: teamDir,
		logger:  cfg.Logger,
	}

	s.registerDelegateTools()
	s.registerPhaseTools()
	s.registerBoardTools()
	s.registerTeamTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
