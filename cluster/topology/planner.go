package topology

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrInvalidCount = errors.New("standby counts must be non-negative")

const (
	DefaultServerPrefix  = "server"
	DefaultDataDirPrefix = "data"
)

type PlanOptions struct {
	SyncCount  int
	AsyncCount int
	StartPort  int

	ServerPrefix  string
	DataDirPrefix string
}

// Plan computes a fresh topology: the primary takes index 1 and the start
// port, synchronous standbys take the next SyncCount indices and ports, then
// asynchronous standbys continue contiguously. Zero counts are valid; a 0:0
// plan is a primary-only cluster.
func Plan(opts PlanOptions) (*Topology, error) {
	if opts.SyncCount < 0 || opts.AsyncCount < 0 {
		return nil, fmt.Errorf("%w: got %d:%d", ErrInvalidCount, opts.SyncCount, opts.AsyncCount)
	}

	serverPrefix := opts.ServerPrefix
	if serverPrefix == "" {
		serverPrefix = DefaultServerPrefix
	}
	dataDirPrefix := opts.DataDirPrefix
	if dataDirPrefix == "" {
		dataDirPrefix = DefaultDataDirPrefix
	}

	makeNode := func(role NodeRole, index int, port int) *Node {
		return &Node{
			Role:        role,
			ServerName:  fmt.Sprintf("%s%d", serverPrefix, index),
			DataDirName: fmt.Sprintf("%s%d", dataDirPrefix, index),
			Port:        port,
		}
	}

	ports := portRange(opts.StartPort, 1+opts.SyncCount+opts.AsyncCount)

	primary := makeNode(RolePrimary, 1, ports[0])

	syncStandbys := make([]*Node, 0, opts.SyncCount)
	for i := 0; i < opts.SyncCount; i++ {
		syncStandbys = append(syncStandbys, makeNode(RoleSyncStandby, 2+i, ports[1+i]))
	}

	asyncStandbys := make([]*Node, 0, opts.AsyncCount)
	for i := 0; i < opts.AsyncCount; i++ {
		asyncStandbys = append(asyncStandbys,
			makeNode(RoleAsyncStandby, 2+opts.SyncCount+i, ports[1+opts.SyncCount+i]))
	}

	return &Topology{
		ClusterID:     uuid.NewString(),
		Primary:       primary,
		SyncStandbys:  syncStandbys,
		AsyncStandbys: asyncStandbys,
	}, nil
}

// portRange generates count consecutive ports starting at start.
func portRange(start int, count int) []int {
	ports := make([]int, 0, count)
	for i := 0; i < count; i++ {
		ports = append(ports, start+i)
	}
	return ports
}
