/*
Package quill is the client core of a code notebook: it starts a kernel
session, dispatches cells to it and folds the streamed execution events into
the results a renderer shows.

# Concept

A Notebook owns an observable state container (ordered cells, per-cell
results, load status and the kernel handle). Executing a cell reads its
current text from the editing surface, resets its result, and applies every
event the kernel streams back through a pure reducer. Renderers read State and
Subscribe to changes; result changes carry a minimal diff.

Kernels are reached through a ports.KernelTransport. The default transport
runs a local interpreter per execution; tests and embedders can use the
in-memory transport instead.

# Usage

	ctx := context.Background()
	nb, err := quill.Open(ctx, "analysis.ipynb",
		quill.WithSnapshotStore(file.NewSnapshotStore("")),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer nb.Shutdown(ctx)

	if err := nb.ExecuteAll(ctx); err != nil {
		log.Printf("some cells failed: %v", err)
	}
	for _, cell := range nb.State().Ordered() {
		if cell.Result != nil {
			fmt.Println(cell.ID, cell.Result.Status)
		}
	}

Kernel exceptions are not errors of Execute: they are visible as an error
output and an error status on the cell. Execute fails for unknown cells,
missing editors, kernel session failures and broken transports.
*/
package quill
