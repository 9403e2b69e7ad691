package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/quill"
	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/notebook"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	notebookURI = "quill://notebook"
	cellURIBase = "quill://cells/"
)

// Notebook is the part of quill.Notebook exposed to agents.
type Notebook interface {
	State() notebook.State
	Source(id string) (string, bool)
	AddCell(cellType domain.CellType, text string) (string, error)
	SetSource(id, text string) error
	ClearResult(id string)
	Execute(ctx context.Context, id string) error
	ExecuteAll(ctx context.Context) error
	RestartKernel(ctx context.Context) error
	Save(ctx context.Context) error
}

var _ Notebook = (*quill.Notebook)(nil)

// CellSummary is a cell rendered for a language model: outputs are flattened to text.
type CellSummary struct {
	ID             string `json:"id" jsonschema_description:"Cell identifier"`
	Type           string `json:"type" jsonschema_description:"code or markdown"`
	Source         string `json:"source" jsonschema_description:"Current cell text"`
	Status         string `json:"status,omitempty" jsonschema_description:"running, success or error; empty if never executed"`
	ExecutionCount *int   `json:"execution_count,omitempty" jsonschema_description:"Kernel execution ordinal"`
	Output         string `json:"output,omitempty" jsonschema_description:"Text rendering of the cell outputs"`
}

// NotebookSummary is the response of list_cells and execute_all.
type NotebookSummary struct {
	Path   string        `json:"path,omitempty" jsonschema_description:"Document path"`
	Kernel string        `json:"kernel,omitempty" jsonschema_description:"Kernel name"`
	Cells  []CellSummary `json:"cells" jsonschema_description:"Cells in notebook order"`
	Error  string        `json:"error,omitempty" jsonschema_description:"Joined execution errors, if any"`
}

type cellArgs struct {
	CellID string `json:"cell_id"`
}

type addCellArgs struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

type setSourceArgs struct {
	CellID string `json:"cell_id"`
	Source string `json:"source"`
}

// Server exposes a notebook as an MCP server.
type Server struct {
	notebook  Notebook
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(nb Notebook, opts ...Option) *Server {
	s := &Server{
		notebook: nb,
		logger:   logging.NewNop(),
		mcpServer: server.NewMCPServer("quill-mcp", strings.TrimSpace(quill.Version),
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(false, true),
			server.WithRecovery(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, e.g. to serve it on a custom transport.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the server over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_cells",
		mcp.WithDescription("List the cells of the notebook with their current text and outputs."),
		mcp.WithOutputSchema[NotebookSummary](),
	), mcp.NewStructuredToolHandler(s.handleListCells))

	s.mcpServer.AddTool(mcp.NewTool("add_cell",
		mcp.WithDescription("Append a cell to the notebook."),
		mcp.WithString("type", mcp.Description("Cell type"), mcp.Enum("code", "markdown")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Cell text")),
		mcp.WithOutputSchema[CellSummary](),
	), mcp.NewStructuredToolHandler(s.handleAddCell))

	s.mcpServer.AddTool(mcp.NewTool("set_source",
		mcp.WithDescription("Replace the text of a cell without executing it."),
		mcp.WithString("cell_id", mcp.Required(), mcp.Description("Cell identifier")),
		mcp.WithString("source", mcp.Required(), mcp.Description("New cell text")),
		mcp.WithOutputSchema[CellSummary](),
	), mcp.NewStructuredToolHandler(s.handleSetSource))

	s.mcpServer.AddTool(mcp.NewTool("execute_cell",
		mcp.WithDescription("Execute a code cell and return its outputs. Kernel exceptions are reported in the outputs with status error."),
		mcp.WithString("cell_id", mcp.Required(), mcp.Description("Cell identifier")),
		mcp.WithOutputSchema[CellSummary](),
	), mcp.NewStructuredToolHandler(s.handleExecuteCell))

	s.mcpServer.AddTool(mcp.NewTool("clear_result",
		mcp.WithDescription("Discard the outputs of a cell."),
		mcp.WithString("cell_id", mcp.Required(), mcp.Description("Cell identifier")),
		mcp.WithOutputSchema[CellSummary](),
	), mcp.NewStructuredToolHandler(s.handleClearResult))

	s.mcpServer.AddTool(mcp.NewTool("execute_all",
		mcp.WithDescription("Execute every code cell in order."),
		mcp.WithOutputSchema[NotebookSummary](),
	), mcp.NewStructuredToolHandler(s.handleExecuteAll))

	s.mcpServer.AddTool(mcp.NewTool("restart_kernel",
		mcp.WithDescription("Restart the kernel session. Outputs stay visible; kernel variables are lost."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.notebook.RestartKernel(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("restart failed: %v", err)), nil
		}
		return mcp.NewToolResultText("kernel restarted"), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("save_notebook",
		mcp.WithDescription("Write the notebook back to its file."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.notebook.Save(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("save failed: %v", err)), nil
		}
		return mcp.NewToolResultText("saved " + s.notebook.State().Path), nil
	})
}

func (s *Server) summarize(c domain.Cell) CellSummary {
	sum := CellSummary{ID: c.ID, Type: string(c.Type), Source: c.InitialText}
	if text, ok := s.notebook.Source(c.ID); ok {
		sum.Source = text
	}
	if c.Result != nil {
		sum.Status = string(c.Result.Status)
		sum.ExecutionCount = c.Result.ExecutionCount
		var sb strings.Builder
		for _, o := range c.Result.Outputs {
			text := o.PlainText()
			sb.WriteString(text)
			if !strings.HasSuffix(text, "\n") {
				sb.WriteByte('\n')
			}
		}
		sum.Output = sb.String()
	}
	return sum
}

func (s *Server) summarizeNotebook(state notebook.State) NotebookSummary {
	sum := NotebookSummary{Path: state.Path, Cells: []CellSummary{}}
	if state.Kernel != nil {
		sum.Kernel = state.Kernel.Spec().Name
	}
	for _, c := range state.Ordered() {
		sum.Cells = append(sum.Cells, s.summarize(c))
	}
	return sum
}

func (s *Server) cell(id string) (CellSummary, error) {
	c, ok := s.notebook.State().Cell(id)
	if !ok {
		return CellSummary{}, &domain.CellError{CellID: id, Err: domain.ErrCellNotFound}
	}
	return s.summarize(c), nil
}

func (s *Server) handleListCells(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (NotebookSummary, error) {
	return s.summarizeNotebook(s.notebook.State()), nil
}

func (s *Server) handleAddCell(ctx context.Context, request mcp.CallToolRequest, args addCellArgs) (CellSummary, error) {
	cellType := domain.CellType(args.Type)
	if cellType == "" {
		cellType = domain.CellCode
	}
	id, err := s.notebook.AddCell(cellType, args.Source)
	if err != nil {
		return CellSummary{}, err
	}
	return s.cell(id)
}

func (s *Server) handleSetSource(ctx context.Context, request mcp.CallToolRequest, args setSourceArgs) (CellSummary, error) {
	if err := s.notebook.SetSource(args.CellID, args.Source); err != nil {
		return CellSummary{}, err
	}
	return s.cell(args.CellID)
}

func (s *Server) handleExecuteCell(ctx context.Context, request mcp.CallToolRequest, args cellArgs) (CellSummary, error) {
	err := s.notebook.Execute(ctx, args.CellID)
	if errors.Is(err, domain.ErrCellNotFound) {
		return CellSummary{}, err
	}
	if err != nil {
		// The failure is recorded on the cell; the agent reads it from the outputs.
		s.logger.Warn("MCP Execute failed", "cell_id", args.CellID, "err", err)
	}
	return s.cell(args.CellID)
}

func (s *Server) handleClearResult(ctx context.Context, request mcp.CallToolRequest, args cellArgs) (CellSummary, error) {
	s.notebook.ClearResult(args.CellID)
	return s.cell(args.CellID)
}

func (s *Server) handleExecuteAll(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (NotebookSummary, error) {
	err := s.notebook.ExecuteAll(ctx)
	sum := s.summarizeNotebook(s.notebook.State())
	if err != nil {
		sum.Error = err.Error()
	}
	return sum, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(notebookURI, "Notebook",
		mcp.WithResourceDescription("All cells with their outputs"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.summarizeNotebook(s.notebook.State()))
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: notebookURI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(cellURIBase+"{id}", "Cell",
		mcp.WithTemplateDescription("One cell with its outputs"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readCell)
}

func (s *Server) readCell(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	sum, err := s.cell(strings.TrimPrefix(uri, cellURIBase))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
