/*
Package runner implements the execution orchestrator.

An Executor takes one cell from "idle" to a sealed Result: it waits for the
kernel session, reads the cell's source from its editor, starts a fresh
Result, dispatches the code and folds the event stream into the notebook
container until the stream ends or fails.

# Usage

	exec := runner.New(container, editors, transport,
		runner.WithLogger(logger),
		runner.WithHooks(metrics.Hooks()),
	)

	if err := exec.Execute(ctx, cellID); err != nil {
		log.Println(err)
	}
*/
package runner
