// Package launch starts and stops cluster nodes through the engine's process
// control tool. Startup walks the dependency order (primary, then sync
// standbys, then async standbys) and teardown walks the exact reverse, so no
// node is ever stopped while another still streams from it.
package launch

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pgforge/pgforge/cluster/topology"
	"github.com/pgforge/pgforge/utils/cmdrunner"
)

type LauncherOptions struct {
	Logger *zap.Logger
	Runner cmdrunner.Runner

	BinDir      string
	ClusterRoot string
}

type Launcher struct {
	logger      *zap.Logger
	runner      cmdrunner.Runner
	binDir      string
	clusterRoot string
}

func NewLauncher(opts *LauncherOptions) *Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Launcher{
		logger:      logger,
		runner:      opts.Runner,
		binDir:      opts.BinDir,
		clusterRoot: opts.ClusterRoot,
	}
}

// Start brings one node up and blocks until the control tool reports it
// ready. No additional timeout is layered on top of the tool's own wait.
func (l *Launcher) Start(ctx context.Context, node *topology.Node) error {
	dataDir := filepath.Join(l.clusterRoot, node.DataDirName)

	l.logger.Info("starting node",
		zap.String("server", node.ServerName),
		zap.String("role", string(node.Role)),
		zap.Int("port", node.Port))

	err := l.runner.Run(ctx, l.clusterRoot, filepath.Join(l.binDir, "pg_ctl"),
		"-w",
		"-D", dataDir,
		"-l", filepath.Join(dataDir, "server.log"),
		"-o", fmt.Sprintf("-p %d", node.Port),
		"start")
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", node.ServerName, err)
	}

	return nil
}

// Stop shuts one node down, blocking until it has exited.
func (l *Launcher) Stop(ctx context.Context, node *topology.Node) error {
	dataDir := filepath.Join(l.clusterRoot, node.DataDirName)

	l.logger.Info("stopping node",
		zap.String("server", node.ServerName),
		zap.String("role", string(node.Role)))

	err := l.runner.Run(ctx, l.clusterRoot, filepath.Join(l.binDir, "pg_ctl"),
		"-w",
		"-m", "fast",
		"-D", dataDir,
		"stop")
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", node.ServerName, err)
	}

	return nil
}

// StartAll launches every node in dependency order, awaiting each before the
// next begins. A failed start aborts the remaining launches immediately;
// nodes already running are left running.
func (l *Launcher) StartAll(ctx context.Context, topo *topology.Topology) error {
	for _, node := range topo.Nodes() {
		if err := l.Start(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops nodes in reverse startup order. When filter is non-empty only
// the named servers are stopped. Per-node failures are logged and teardown
// continues; a non-nil error is returned if any node failed to stop.
func (l *Launcher) StopAll(ctx context.Context, topo *topology.Topology, filter []string) error {
	wanted := make(map[string]bool, len(filter))
	for _, name := range filter {
		wanted[name] = true
	}

	nodes := topo.Nodes()

	var failed int
	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]
		if len(wanted) > 0 && !wanted[node.ServerName] {
			continue
		}

		if err := l.Stop(ctx, node); err != nil {
			l.logger.Error("node stop failed, continuing teardown",
				zap.String("server", node.ServerName),
				zap.Error(err))
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d node(s) failed to stop", cmdrunner.ErrToolFailure, failed)
	}

	return nil
}
