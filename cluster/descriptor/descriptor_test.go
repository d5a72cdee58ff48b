package descriptor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgforge/pgforge/cluster/topology"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	root := t.TempDir()

	topo, err := topology.Plan(topology.PlanOptions{
		SyncCount:  2,
		AsyncCount: 1,
		StartPort:  5432,
	})
	require.NoError(t, err)

	require.NoError(t, Store(root, topo))
	require.True(t, Exists(root))

	loaded, err := Load(root)
	require.NoError(t, err)

	require.Equal(t, topo.ClusterID, loaded.ClusterID)
	require.Equal(t, topo.Primary, loaded.Primary)
	require.Equal(t, topo.SyncStandbys, loaded.SyncStandbys)
	require.Equal(t, topo.AsyncStandbys, loaded.AsyncStandbys)
	require.Equal(t, topo.Nodes(), loaded.Nodes())
}

func TestStoreLoadPrimaryOnly(t *testing.T) {
	root := t.TempDir()

	topo, err := topology.Plan(topology.PlanOptions{StartPort: 6000})
	require.NoError(t, err)

	require.NoError(t, Store(root, topo))

	loaded, err := Load(root)
	require.NoError(t, err)
	require.Empty(t, loaded.SyncStandbys)
	require.Empty(t, loaded.AsyncStandbys)
	require.Equal(t, []int{6000}, loaded.Ports())
}

func TestStoreWritesMergedLists(t *testing.T) {
	root := t.TempDir()

	topo, err := topology.Plan(topology.PlanOptions{
		SyncCount:  1,
		AsyncCount: 1,
		StartPort:  5432,
	})
	require.NoError(t, err)
	require.NoError(t, Store(root, topo))

	data, err := os.ReadFile(Path(root))
	require.NoError(t, err)

	content := string(data)
	require.Contains(t, content, "all_servers = server1 server2 server3")
	require.Contains(t, content, "all_ports = 5432 5433 5434")
}

func TestLoadMissing(t *testing.T) {
	root := t.TempDir()

	_, err := Load(root)
	require.ErrorIs(t, err, ErrMissingDescriptor)
	require.False(t, Exists(root))
}

func TestLoadCorrupt(t *testing.T) {
	t.Run("NoAssignment", func(t *testing.T) {
		root := t.TempDir()
		writeDescriptor(t, root, "primary_server server1\n")

		_, err := Load(root)
		require.ErrorIs(t, err, ErrCorruptDescriptor)
	})

	t.Run("MissingKey", func(t *testing.T) {
		root := t.TempDir()
		writeDescriptor(t, root, "primary_server = server1\n")

		_, err := Load(root)
		require.ErrorIs(t, err, ErrCorruptDescriptor)
	})

	t.Run("BadPort", func(t *testing.T) {
		root := t.TempDir()

		topo, err := topology.Plan(topology.PlanOptions{SyncCount: 1, StartPort: 5432})
		require.NoError(t, err)
		require.NoError(t, Store(root, topo))

		data, err := os.ReadFile(Path(root))
		require.NoError(t, err)
		mangled := strings.Replace(string(data), "sync_ports = 5433", "sync_ports = x", 1)
		writeDescriptor(t, root, mangled)

		_, err = Load(root)
		require.ErrorIs(t, err, ErrCorruptDescriptor)
	})

	t.Run("ListLengthMismatch", func(t *testing.T) {
		root := t.TempDir()

		topo, err := topology.Plan(topology.PlanOptions{SyncCount: 1, StartPort: 5432})
		require.NoError(t, err)
		require.NoError(t, Store(root, topo))

		data, err := os.ReadFile(Path(root))
		require.NoError(t, err)
		mangled := strings.Replace(string(data), "sync_servers = server2", "sync_servers = server2 server3", 1)
		writeDescriptor(t, root, mangled)

		_, err = Load(root)
		require.ErrorIs(t, err, ErrCorruptDescriptor)
	})
}

func TestLoadIgnoresUnknownKeysAndComments(t *testing.T) {
	root := t.TempDir()

	topo, err := topology.Plan(topology.PlanOptions{StartPort: 5432})
	require.NoError(t, err)
	require.NoError(t, Store(root, topo))

	data, err := os.ReadFile(Path(root))
	require.NoError(t, err)
	extended := string(data) + "\n# trailing comment\nfuture_key = whatever\n"
	writeDescriptor(t, root, extended)

	loaded, err := Load(root)
	require.NoError(t, err)
	require.Equal(t, topo.Primary, loaded.Primary)
}

func writeDescriptor(t *testing.T, root string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0644))
}
