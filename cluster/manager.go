// Package cluster sequences topology planning, node bootstrap, and node
// launch into the operator-facing lifecycle operations: setup, stop, and
// remove. The persisted descriptor is authoritative: once a cluster root has
// one, later operations run from it and never recompute the topology.
package cluster

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pgforge/pgforge/cluster/bootstrap"
	"github.com/pgforge/pgforge/cluster/descriptor"
	"github.com/pgforge/pgforge/cluster/launch"
	"github.com/pgforge/pgforge/cluster/topology"
	"github.com/pgforge/pgforge/pgbin"
	"github.com/pgforge/pgforge/utils/cmdrunner"
)

var validate = validator.New()

type ManagerOptions struct {
	Logger   *zap.Logger
	Runner   cmdrunner.Runner
	Registry *pgbin.Registry
}

type Manager struct {
	logger   *zap.Logger
	runner   cmdrunner.Runner
	registry *pgbin.Registry
}

func NewManager(opts *ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		logger:   logger,
		runner:   opts.Runner,
		registry: opts.Registry,
	}
}

type SetupOptions struct {
	SyncCount  int    `validate:"min=0"`
	AsyncCount int    `validate:"min=0"`
	DataRoot   string `validate:"required"`
	StartPort  int    `validate:"min=1,max=65535"`

	// Version selects the engine build; empty means the current one.
	Version string
}

// Setup provisions a cluster under opts.DataRoot: it obtains a topology
// (reusing a persisted descriptor when one exists), bootstraps and launches
// every node in dependency order, and persists the descriptor. The
// descriptor is written even when bring-up fails partway, so a later stop or
// remove can still reach whatever was started.
func (m *Manager) Setup(ctx context.Context, opts *SetupOptions) (*topology.Topology, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}

	binDir, err := m.registry.Resolve(opts.Version)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.DataRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cluster root: %w", err)
	}

	topo, err := topology.Plan(topology.PlanOptions{
		SyncCount:  opts.SyncCount,
		AsyncCount: opts.AsyncCount,
		StartPort:  opts.StartPort,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}

	if descriptor.Exists(opts.DataRoot) {
		// an existing descriptor wins over the fresh plan, otherwise two
		// setup runs with different counts would drift the topology
		persisted, err := descriptor.Load(opts.DataRoot)
		if err != nil {
			return nil, err
		}

		m.logger.Info("found existing cluster descriptor, reusing persisted topology",
			zap.String("dataRoot", opts.DataRoot),
			zap.Strings("servers", persisted.ServerNames()))
		topo = persisted
	}

	bootstrapper := bootstrap.NewBootstrapper(&bootstrap.BootstrapperOptions{
		Logger:      m.logger.Named("bootstrap"),
		Runner:      m.runner,
		BinDir:      binDir,
		ClusterRoot: opts.DataRoot,
	})
	launcher := launch.NewLauncher(&launch.LauncherOptions{
		Logger:      m.logger.Named("launch"),
		Runner:      m.runner,
		BinDir:      binDir,
		ClusterRoot: opts.DataRoot,
	})

	bringUpErr := bootstrapper.BootstrapAll(ctx, topo)
	if bringUpErr == nil {
		bringUpErr = launcher.StartAll(ctx, topo)
	}

	if !descriptor.Exists(opts.DataRoot) {
		if err := descriptor.Store(opts.DataRoot, topo); err != nil {
			if bringUpErr != nil {
				m.logger.Error("failed to persist descriptor", zap.Error(err))
				return topo, bringUpErr
			}
			return topo, err
		}
	}

	if bringUpErr != nil {
		return topo, bringUpErr
	}

	m.logger.Info("cluster is up",
		zap.String("dataRoot", opts.DataRoot),
		zap.Strings("servers", topo.ServerNames()),
		zap.Ints("ports", topo.Ports()))

	return topo, nil
}

// Stop shuts down nodes of a previously provisioned cluster in reverse
// startup order. A persisted descriptor is required; nodeFilter, when
// non-empty, restricts teardown to the named servers. Per-node failures do
// not abort the remaining teardown.
func (m *Manager) Stop(ctx context.Context, dataRoot string, nodeFilter []string, version string) error {
	if dataRoot == "" {
		return ErrMissingDataRoot
	}

	topo, err := descriptor.Load(dataRoot)
	if err != nil {
		return err
	}

	binDir, err := m.registry.Resolve(version)
	if err != nil {
		return err
	}

	launcher := launch.NewLauncher(&launch.LauncherOptions{
		Logger:      m.logger.Named("launch"),
		Runner:      m.runner,
		BinDir:      binDir,
		ClusterRoot: dataRoot,
	})

	return launcher.StopAll(ctx, topo, nodeFilter)
}

// Remove stops every node of the cluster and then deletes the cluster root,
// descriptor included. A missing descriptor is fatal and leaves the directory
// untouched. Stop failures are logged but do not prevent deletion.
func (m *Manager) Remove(ctx context.Context, dataRoot string, version string) error {
	if dataRoot == "" {
		return ErrMissingDataRoot
	}

	if _, err := descriptor.Load(dataRoot); err != nil {
		return err
	}

	if err := m.Stop(ctx, dataRoot, nil, version); err != nil {
		m.logger.Warn("some nodes failed to stop, removing cluster root anyway",
			zap.String("dataRoot", dataRoot),
			zap.Error(err))
	}

	if err := os.RemoveAll(dataRoot); err != nil {
		return fmt.Errorf("failed to remove cluster root: %w", err)
	}

	m.logger.Info("cluster removed", zap.String("dataRoot", dataRoot))
	return nil
}
