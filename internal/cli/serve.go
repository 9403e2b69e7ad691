package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/quill"
	quillhttp "github.com/aretw0/quill/pkg/adapters/http"
	"github.com/aretw0/quill/pkg/adapters/mcp"
)

// ServeOptions configures the HTTP server.
type ServeOptions struct {
	Config
	Addr string
}

// open wires and opens the configured notebook. The returned func releases both.
func open(ctx context.Context, cfg Config) (*quill.Notebook, *Wiring, func(), error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, nil, err
	}
	wiring, err := Wire(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	nb, err := quill.Open(ctx, cfg.Path, wiring.Options...)
	if err != nil {
		wiring.Close()
		return nil, nil, nil, err
	}
	release := func() {
		if err := nb.Shutdown(context.Background()); err != nil {
			logger.Warn("Kernel shutdown failed", "err", err)
		}
		wiring.Close()
	}
	return nb, wiring, release, nil
}

// Serve exposes a notebook over HTTP until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions, p *Printer) error {
	nb, wiring, release, err := open(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer release()

	handler := quillhttp.NewServer(nb,
		quillhttp.WithLogger(wiring.Logger),
		quillhttp.WithMetrics(wiring.Metrics.Handler()),
	)
	defer handler.Close()

	srv := &http.Server{Addr: opts.Addr, Handler: handler}
	serverErrors := make(chan error, 1)
	go func() {
		p.System("Serving %s on %s", opts.Path, opts.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown did not complete: %w", err)
		}
		p.System("Server stopped gracefully.")
		return nil
	}
}

// MCPOptions configures the MCP server.
type MCPOptions struct {
	Config
	// Transport is "stdio" or "sse".
	Transport string
	Addr      string
}

// ServeMCP exposes a notebook as an MCP server.
func ServeMCP(ctx context.Context, opts MCPOptions) error {
	nb, wiring, release, err := open(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer release()

	srv := mcp.NewServer(nb, mcp.WithLogger(wiring.Logger))
	switch opts.Transport {
	case "", "stdio":
		return srv.ServeStdio()
	case "sse":
		err := srv.ServeSSE(ctx, opts.Addr, "http://localhost"+opts.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown transport %q (supported: stdio, sse)", opts.Transport)
	}
}
