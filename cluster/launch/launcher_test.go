package launch

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgforge/pgforge/cluster/topology"
	"github.com/pgforge/pgforge/utils/cmdrunner"
)

type fakeRunner struct {
	calls []string

	// failCall makes the n-th invocation (0-based) fail
	failCall int
	failErr  error
}

var _ cmdrunner.Runner = (*fakeRunner)(nil)

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failCall: -1}
}

func (r *fakeRunner) Run(ctx context.Context, dir string, name string, args ...string) error {
	_, err := r.Output(ctx, dir, name, args...)
	return err
}

func (r *fakeRunner) Output(ctx context.Context, dir string, name string, args ...string) (string, error) {
	call := len(r.calls)
	r.calls = append(r.calls, strings.Join(args, " "))

	if call == r.failCall {
		return "", r.failErr
	}
	return "", nil
}

// dataDirOf extracts the -D argument of a recorded pg_ctl call.
func dataDirOf(t *testing.T, call string) string {
	t.Helper()
	fields := strings.Fields(call)
	for i, f := range fields {
		if f == "-D" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	t.Fatalf("no -D argument in call %q", call)
	return ""
}

func planTopology(t *testing.T, syncCount int, asyncCount int) *topology.Topology {
	t.Helper()
	topo, err := topology.Plan(topology.PlanOptions{
		SyncCount:  syncCount,
		AsyncCount: asyncCount,
		StartPort:  5432,
	})
	require.NoError(t, err)
	return topo
}

func newLauncher(runner cmdrunner.Runner) *Launcher {
	return NewLauncher(&LauncherOptions{
		Runner:      runner,
		BinDir:      "/opt/pg/bin",
		ClusterRoot: "/clusters/demo",
	})
}

func TestStartAllOrdering(t *testing.T) {
	runner := newFakeRunner()
	topo := planTopology(t, 2, 1)

	require.NoError(t, newLauncher(runner).StartAll(context.Background(), topo))

	require.Len(t, runner.calls, 4)
	for i, dataDir := range []string{"data1", "data2", "data3", "data4"} {
		require.Equal(t, "/clusters/demo/"+dataDir, dataDirOf(t, runner.calls[i]))
		require.Contains(t, runner.calls[i], fmt.Sprintf("-p %d", 5432+i))
	}
}

func TestStartAllFailFast(t *testing.T) {
	runner := newFakeRunner()
	runner.failCall = 1
	runner.failErr = fmt.Errorf("%w: port already bound", cmdrunner.ErrToolFailure)
	topo := planTopology(t, 1, 2)

	err := newLauncher(runner).StartAll(context.Background(), topo)
	require.ErrorIs(t, err, cmdrunner.ErrToolFailure)
	require.Contains(t, err.Error(), "server2")

	// the primary started, the failing sync standby was attempted,
	// nothing after it
	require.Len(t, runner.calls, 2)
}

func TestStopAllReverseOrdering(t *testing.T) {
	runner := newFakeRunner()
	topo := planTopology(t, 2, 1)

	require.NoError(t, newLauncher(runner).StopAll(context.Background(), topo, nil))

	require.Len(t, runner.calls, 4)
	for i, dataDir := range []string{"data4", "data3", "data2", "data1"} {
		require.Equal(t, "/clusters/demo/"+dataDir, dataDirOf(t, runner.calls[i]))
	}
}

func TestStopAllFiltered(t *testing.T) {
	runner := newFakeRunner()
	topo := planTopology(t, 1, 1)

	err := newLauncher(runner).StopAll(context.Background(), topo, []string{"server3"})
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	require.Equal(t, "/clusters/demo/data3", dataDirOf(t, runner.calls[0]))
}

func TestStopAllBestEffort(t *testing.T) {
	runner := newFakeRunner()
	runner.failCall = 0
	runner.failErr = fmt.Errorf("%w: not running", cmdrunner.ErrToolFailure)
	topo := planTopology(t, 1, 1)

	err := newLauncher(runner).StopAll(context.Background(), topo, nil)
	require.ErrorIs(t, err, cmdrunner.ErrToolFailure)

	// the async standby failed but every remaining node was still stopped
	require.Len(t, runner.calls, 3)
}
