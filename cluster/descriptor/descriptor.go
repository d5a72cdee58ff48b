// Package descriptor persists a cluster topology as an inert flat record in
// the cluster root. The file is plain "key = value" text, parsed into a typed
// structure and never evaluated. Once written it is the authoritative source
// of truth for every later lifecycle operation.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pgforge/pgforge/cluster/topology"
)

// FileName is the descriptor's name inside the cluster root.
const FileName = "cluster"

var (
	ErrMissingDescriptor = errors.New("no cluster descriptor found")
	ErrCorruptDescriptor = errors.New("cluster descriptor is malformed")
)

// Path returns the descriptor location for a cluster root.
func Path(clusterRoot string) string {
	return filepath.Join(clusterRoot, FileName)
}

// Exists reports whether a descriptor has been persisted for this root.
func Exists(clusterRoot string) bool {
	_, err := os.Stat(Path(clusterRoot))
	return err == nil
}

// Store writes the topology record atomically (temp file + rename) so a
// crashed write never leaves a half-written descriptor behind.
func Store(clusterRoot string, topo *topology.Topology) error {
	var sb strings.Builder
	sb.WriteString("# pgforge cluster descriptor. generated file, do not edit.\n")

	writeKey := func(key string, value string) {
		sb.WriteString(key)
		sb.WriteString(" = ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	nodeFields := func(nodes []*topology.Node) (string, string, string) {
		servers := make([]string, 0, len(nodes))
		datadirs := make([]string, 0, len(nodes))
		ports := make([]string, 0, len(nodes))
		for _, node := range nodes {
			servers = append(servers, node.ServerName)
			datadirs = append(datadirs, node.DataDirName)
			ports = append(ports, strconv.Itoa(node.Port))
		}
		return strings.Join(servers, " "), strings.Join(datadirs, " "), strings.Join(ports, " ")
	}

	writeKey("cluster_id", topo.ClusterID)

	writeKey("primary_server", topo.Primary.ServerName)
	writeKey("primary_datadir", topo.Primary.DataDirName)
	writeKey("primary_port", strconv.Itoa(topo.Primary.Port))

	syncServers, syncDatadirs, syncPorts := nodeFields(topo.SyncStandbys)
	writeKey("sync_servers", syncServers)
	writeKey("sync_datadirs", syncDatadirs)
	writeKey("sync_ports", syncPorts)

	asyncServers, asyncDatadirs, asyncPorts := nodeFields(topo.AsyncStandbys)
	writeKey("async_servers", asyncServers)
	writeKey("async_datadirs", asyncDatadirs)
	writeKey("async_ports", asyncPorts)

	// merged lists let stop/remove walk every node without role-specific logic
	allServers, allDatadirs, allPorts := nodeFields(topo.Nodes())
	writeKey("all_servers", allServers)
	writeKey("all_datadirs", allDatadirs)
	writeKey("all_ports", allPorts)

	tmpPath := Path(clusterRoot) + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}

	if err := os.Rename(tmpPath, Path(clusterRoot)); err != nil {
		return fmt.Errorf("failed to move descriptor into place: %w", err)
	}

	return nil
}

// Load parses a persisted descriptor back into a topology. It is the exact
// inverse of Store: node lists, names, and ports come back in the order they
// were written. Unknown keys are ignored so older builds can read newer files.
func Load(clusterRoot string) (*topology.Topology, error) {
	data, err := os.ReadFile(Path(clusterRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrMissingDescriptor, Path(clusterRoot))
		}
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	fields := make(map[string]string)
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("%w: line %d has no assignment", ErrCorruptDescriptor, lineNo+1)
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	required := []string{
		"primary_server", "primary_datadir", "primary_port",
		"sync_servers", "sync_datadirs", "sync_ports",
		"async_servers", "async_datadirs", "async_ports",
	}
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrCorruptDescriptor, key)
		}
	}

	primaryPort, err := strconv.Atoi(fields["primary_port"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad primary_port %q", ErrCorruptDescriptor, fields["primary_port"])
	}

	primary := &topology.Node{
		Role:        topology.RolePrimary,
		ServerName:  fields["primary_server"],
		DataDirName: fields["primary_datadir"],
		Port:        primaryPort,
	}

	syncStandbys, err := parseNodeLists(topology.RoleSyncStandby,
		fields["sync_servers"], fields["sync_datadirs"], fields["sync_ports"])
	if err != nil {
		return nil, err
	}

	asyncStandbys, err := parseNodeLists(topology.RoleAsyncStandby,
		fields["async_servers"], fields["async_datadirs"], fields["async_ports"])
	if err != nil {
		return nil, err
	}

	return &topology.Topology{
		ClusterID:     fields["cluster_id"],
		Primary:       primary,
		SyncStandbys:  syncStandbys,
		AsyncStandbys: asyncStandbys,
	}, nil
}

func parseNodeLists(role topology.NodeRole, servers string, datadirs string, ports string) ([]*topology.Node, error) {
	serverList := strings.Fields(servers)
	datadirList := strings.Fields(datadirs)
	portList := strings.Fields(ports)

	if len(serverList) != len(datadirList) || len(serverList) != len(portList) {
		return nil, fmt.Errorf("%w: %s lists disagree in length (%d servers, %d datadirs, %d ports)",
			ErrCorruptDescriptor, role, len(serverList), len(datadirList), len(portList))
	}

	nodes := make([]*topology.Node, 0, len(serverList))
	for i := range serverList {
		port, err := strconv.Atoi(portList[i])
		if err != nil {
			return nil, fmt.Errorf("%w: bad %s port %q", ErrCorruptDescriptor, role, portList[i])
		}

		nodes = append(nodes, &topology.Node{
			Role:        role,
			ServerName:  serverList[i],
			DataDirName: datadirList[i],
			Port:        port,
		})
	}

	return nodes, nil
}
