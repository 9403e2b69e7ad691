package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/quill"
	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/adapters/file"
	"github.com/aretw0/quill/pkg/adapters/process"
	"github.com/aretw0/quill/pkg/adapters/redis"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/observability"
	"github.com/aretw0/quill/pkg/persistence/middleware"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// RedisAddrEnv names the environment fallback for Config.RedisAddr.
	RedisAddrEnv = "QUILL_REDIS_ADDR"
	// SnapshotKeyEnv holds a hex encoded AES-256 key. When set, snapshots
	// are sealed before they reach the store.
	SnapshotKeyEnv = "QUILL_SNAPSHOT_KEY"
)

// Config holds the settings shared by every command.
type Config struct {
	Path        string
	Kernel      string
	KernelsFile string
	SnapshotDir string
	RedisAddr   string
	LogLevel    string
	LogFormat   string

	// Transport overrides the process transport.
	Transport ports.KernelTransport
}

// Logger builds the application logger. An empty level disables logging.
func (c Config) Logger() (*slog.Logger, error) {
	if c.LogLevel == "" {
		return logging.NewNop(), nil
	}
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, logging.WithFormat(format)), nil
}

// Wiring is the set of notebook options built from a Config, plus the
// resources that must be released with it.
type Wiring struct {
	Options  []quill.Option
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *slog.Logger

	closers []func() error
}

// Close releases the resources opened by Wire.
func (w *Wiring) Close() error {
	var errs []error
	for _, fn := range w.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// Wire turns a Config into notebook options.
//
// Kernels come from the built-in set, extended by the kernels file. Snapshots
// go to Redis when an address is configured (flag or QUILL_REDIS_ADDR), which
// also coordinates kernel starts across processes, otherwise to SnapshotDir
// when set.
func Wire(cfg Config, logger *slog.Logger) (*Wiring, error) {
	w := &Wiring{Registry: prometheus.NewRegistry(), Logger: logger}
	w.Metrics = observability.NewMetrics(w.Registry, observability.WithLogger(logger))
	w.Options = append(w.Options,
		quill.WithLogger(logger),
		quill.WithHooks(observability.Combine(w.Metrics.Hooks(), debugHooks(logger))),
	)

	transport := cfg.Transport
	if transport == nil {
		kernels := process.DefaultKernels()
		if cfg.KernelsFile != "" {
			extra, err := process.LoadKernels(cfg.KernelsFile)
			if err != nil {
				return nil, err
			}
			for name, k := range extra {
				kernels[name] = k
			}
		}
		opts := []process.Option{process.WithRegistry(kernels), process.WithLogger(logger)}
		if cfg.Path != "" {
			opts = append(opts, process.WithBaseDir(filepath.Dir(cfg.Path)))
		}
		transport = process.NewTransport(opts...)
	}
	w.Options = append(w.Options, quill.WithTransport(transport))

	if cfg.Kernel != "" {
		w.Options = append(w.Options, quill.WithKernel(ports.KernelSpec{Name: cfg.Kernel}))
	}

	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = strings.TrimSpace(os.Getenv(RedisAddrEnv))
	}
	var snapshots ports.SnapshotStore
	switch {
	case redisAddr != "":
		store := redis.New(redisAddr, "", 0)
		w.closers = append(w.closers, store.Close)
		w.Options = append(w.Options, quill.WithLocker(redis.NewLocker(store.Client(), redis.DefaultPrefix)))
		snapshots = store
		logger.Debug("Using redis snapshot store", "addr", redisAddr)
	case cfg.SnapshotDir != "":
		snapshots = file.NewSnapshotStore(cfg.SnapshotDir)
		logger.Debug("Using file snapshot store", "dir", cfg.SnapshotDir)
	}

	if snapshots != nil {
		mws, err := snapshotMiddlewares(os.Getenv(SnapshotKeyEnv))
		if err != nil {
			w.Close()
			return nil, err
		}
		w.Options = append(w.Options, quill.WithSnapshotStore(middleware.Chain(snapshots, mws...)))
	}

	return w, nil
}

func snapshotMiddlewares(hexKey string) ([]middleware.Middleware, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SnapshotKeyEnv, err)
	}
	mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SnapshotKeyEnv, err)
	}
	return []middleware.Middleware{mw}, nil
}

func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnExecuteStart: func(ctx context.Context, info *domain.ExecutionInfo) {
			logger.Debug("Execute start", "cell_id", info.CellID, "session_id", info.SessionID)
		},
		OnExecuteFinish: func(ctx context.Context, info *domain.ExecutionInfo) {
			if info.Err != nil {
				logger.Debug("Execute finish (error)", "cell_id", info.CellID, "err", info.Err)
				return
			}
			logger.Debug("Execute finish", "cell_id", info.CellID, "status", info.Status, "duration", info.Duration)
		},
	}
}
