package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/quill"
	"github.com/aretw0/quill/pkg/domain"
)

// ErrCellsFailed is returned by Run when at least one cell ended in error.
var ErrCellsFailed = errors.New("cells failed")

// RunOptions contains the configuration for the run command.
type RunOptions struct {
	Config
	// Cells restricts the run to these ids, in the given order.
	Cells []string
	// Save writes the outputs back to the document.
	Save  bool
	Quiet bool
}

// Run opens a notebook, executes its code cells and prints their outputs.
func Run(ctx context.Context, opts RunOptions, p *Printer) error {
	logger, err := opts.Logger()
	if err != nil {
		return err
	}
	wiring, err := Wire(opts.Config, logger)
	if err != nil {
		return err
	}
	defer wiring.Close()

	if !opts.Quiet {
		p.Banner(quill.Version)
	}

	nb, err := quill.Open(ctx, opts.Path, wiring.Options...)
	if err != nil {
		return err
	}
	defer func() {
		if err := nb.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Kernel shutdown failed", "err", err)
		}
	}()

	kernel := nb.Kernel()
	if _, err := kernel.Wait(ctx); err != nil {
		if isInterrupted(err) {
			return nil
		}
		return fmt.Errorf("kernel %s: %w", kernel.Spec().Name, err)
	}
	if !opts.Quiet {
		p.System("Kernel '%s' ready.", kernel.Spec().Name)
	}

	ids := opts.Cells
	if len(ids) == 0 {
		for _, c := range nb.State().Ordered() {
			if c.Type == domain.CellCode {
				ids = append(ids, c.ID)
			}
		}
	}

	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		err := nb.Execute(ctx, id)
		if errors.Is(err, domain.ErrCellNotFound) {
			return err
		}
		cell, _ := nb.State().Cell(id)
		source, _ := nb.Source(id)
		p.Cell(cell, source)
		if err != nil || (cell.Result != nil && cell.Result.Status == domain.StatusError) {
			failed++
		}
	}

	if ctx.Err() != nil {
		if !opts.Quiet {
			p.System("Interrupted.")
		}
		return nil
	}

	if opts.Save {
		if err := nb.Save(ctx); err != nil {
			return err
		}
		if !opts.Quiet {
			p.System("Saved %s.", nb.Path())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d %w", failed, len(ids), ErrCellsFailed)
	}
	return nil
}
