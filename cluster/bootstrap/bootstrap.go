// Package bootstrap prepares node data directories: a fresh initdb for the
// primary, a physical base backup plus replica configuration for every
// standby. All work is idempotent on directory presence, so a re-entrant
// setup against a fully initialized root performs no tool calls.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pgforge/pgforge/cluster/topology"
	"github.com/pgforge/pgforge/utils/cmdrunner"
)

// ReplicationHost is the address standbys use to reach the primary. The tool
// manages a single host's processes, so loopback is the only peer address.
const ReplicationHost = "127.0.0.1"

type BootstrapperOptions struct {
	Logger *zap.Logger
	Runner cmdrunner.Runner

	// BinDir is the resolved executable directory of the engine build.
	BinDir string

	// ClusterRoot holds every node's data directory plus the descriptor.
	ClusterRoot string
}

type Bootstrapper struct {
	logger      *zap.Logger
	runner      cmdrunner.Runner
	binDir      string
	clusterRoot string
}

func NewBootstrapper(opts *BootstrapperOptions) *Bootstrapper {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bootstrapper{
		logger:      logger,
		runner:      opts.Runner,
		binDir:      opts.BinDir,
		clusterRoot: opts.ClusterRoot,
	}
}

// BootstrapAll initializes every node in dependency order. The primary must
// be complete before any standby copies it, and standbys are taken one at a
// time so the primary stays an unchanging backup source.
func (b *Bootstrapper) BootstrapAll(ctx context.Context, topo *topology.Topology) error {
	if err := b.BootstrapPrimary(ctx, topo); err != nil {
		return err
	}

	for _, node := range topo.SyncStandbys {
		if err := b.BootstrapStandby(ctx, topo, node); err != nil {
			return err
		}
	}
	for _, node := range topo.AsyncStandbys {
		if err := b.BootstrapStandby(ctx, topo, node); err != nil {
			return err
		}
	}

	return nil
}

// BootstrapPrimary initializes the primary's data directory and writes its
// replication configuration. Synchronous standby names are registered here,
// before any node has started, because the primary reads them at boot.
func (b *Bootstrapper) BootstrapPrimary(ctx context.Context, topo *topology.Topology) error {
	dataDir := b.dataDirPath(topo.Primary)

	if _, err := os.Stat(dataDir); err == nil {
		b.logger.Warn("primary data directory already exists, skipping initialization",
			zap.String("server", topo.Primary.ServerName),
			zap.String("dataDir", dataDir))
		return nil
	}

	b.logger.Info("initializing primary data directory",
		zap.String("server", topo.Primary.ServerName),
		zap.String("dataDir", dataDir))

	err := b.runner.Run(ctx, b.clusterRoot, filepath.Join(b.binDir, "initdb"),
		"--encoding=UTF8", "--no-locale", "-D", dataDir)
	if err != nil {
		return fmt.Errorf("initdb for %s failed: %w", topo.Primary.ServerName, err)
	}

	totalNodes := len(topo.Nodes())
	confLines := []string{
		"",
		"# appended by pgforge",
		fmt.Sprintf("listen_addresses = '%s'", ReplicationHost),
		"wal_level = replica",
		fmt.Sprintf("max_wal_senders = %d", totalNodes),
		fmt.Sprintf("max_replication_slots = %d", totalNodes),
		fmt.Sprintf("synchronous_standby_names = '%s'", strings.Join(topo.SyncStandbyNames(), ",")),
	}
	if err := appendLines(filepath.Join(dataDir, "postgresql.conf"), confLines); err != nil {
		return err
	}

	hbaLines := []string{
		"",
		"# appended by pgforge: trust loopback replication connections",
		fmt.Sprintf("host replication all %s/32 trust", ReplicationHost),
	}
	if err := appendLines(filepath.Join(dataDir, "pg_hba.conf"), hbaLines); err != nil {
		return err
	}

	return nil
}

// BootstrapStandby takes a base backup of the primary into the standby's data
// directory and configures it to stream from the primary under its own
// server name.
func (b *Bootstrapper) BootstrapStandby(ctx context.Context, topo *topology.Topology, node *topology.Node) error {
	dataDir := b.dataDirPath(node)

	if _, err := os.Stat(dataDir); err == nil {
		b.logger.Warn("standby data directory already exists, skipping base backup",
			zap.String("server", node.ServerName),
			zap.String("dataDir", dataDir))
		return nil
	}

	b.logger.Info("taking base backup for standby",
		zap.String("server", node.ServerName),
		zap.String("role", string(node.Role)),
		zap.Int("primaryPort", topo.Primary.Port))

	err := b.runner.Run(ctx, b.clusterRoot, filepath.Join(b.binDir, "pg_basebackup"),
		"-h", ReplicationHost,
		"-p", fmt.Sprintf("%d", topo.Primary.Port),
		"-D", dataDir,
		"-X", "stream",
		"--progress",
		"--checkpoint=fast")
	if err != nil {
		return fmt.Errorf("base backup for %s failed: %w", node.ServerName, err)
	}

	confLines := []string{
		"",
		"# appended by pgforge",
		"hot_standby = on",
		fmt.Sprintf("primary_conninfo = 'host=%s port=%d application_name=%s'",
			ReplicationHost, topo.Primary.Port, node.ServerName),
	}
	if err := appendLines(filepath.Join(dataDir, "postgresql.conf"), confLines); err != nil {
		return err
	}

	// standby.signal puts the node in standby mode at startup
	signalPath := filepath.Join(dataDir, "standby.signal")
	if err := os.WriteFile(signalPath, nil, 0644); err != nil {
		return fmt.Errorf("failed to write standby.signal for %s: %w", node.ServerName, err)
	}

	return nil
}

func (b *Bootstrapper) dataDirPath(node *topology.Node) string {
	return filepath.Join(b.clusterRoot, node.DataDirName)
}

func appendLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}

	return nil
}
