package quill

import (
	"log/slog"
	"time"

	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
)

// Option defines a functional option for configuring a Notebook.
type Option func(*Notebook)

// WithTransport sets the kernel transport.
// Defaults to a process transport with the built-in kernels.
func WithTransport(t ports.KernelTransport) Option {
	return func(n *Notebook) {
		n.transport = t
	}
}

// WithDocumentStore sets how notebooks are read and written.
// Defaults to the filesystem store (.ipynb and YAML).
func WithDocumentStore(s ports.DocumentStore) Option {
	return func(n *Notebook) {
		n.documents = s
	}
}

// WithSnapshotStore enables result persistence. Results are restored on Open
// and saved after every execution, keyed by the notebook path.
func WithSnapshotStore(s ports.SnapshotStore) Option {
	return func(n *Notebook) {
		n.snapshots = s
	}
}

// WithKernel forces the kernel spec instead of reading it from the document metadata.
func WithKernel(spec ports.KernelSpec) Option {
	return func(n *Notebook) {
		n.spec = &spec
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notebook) {
		n.logger = logger
	}
}

// WithHooks registers observability hooks on the orchestrator.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(n *Notebook) {
		n.hooks = hooks
	}
}

// WithLocker coordinates kernel starts across processes sharing a notebook.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(n *Notebook) {
		n.locker = locker
	}
}

// WithStartTimeout bounds how long a kernel may take to become ready.
func WithStartTimeout(d time.Duration) Option {
	return func(n *Notebook) {
		n.startTimeout = d
	}
}
