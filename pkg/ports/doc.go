/*
Package ports defines the driven ports (interfaces) for the Quill notebook core.

These interfaces decouple the core logic from external implementations, allowing
the orchestrator to work with various kernel transports, document formats and
snapshot backends.

# Key Interfaces

  - KernelTransport: starts kernel sessions and dispatches code, returning an EventStream.
  - DocumentStore: loads (and optionally saves) notebook documents.
  - SnapshotStore: persists the visible notebook state between runs.
  - SourceProvider: the editing-surface handle used to read a cell's current text.
*/
package ports
