package topology

type NodeRole string

const (
	RolePrimary      NodeRole = "primary"
	RoleSyncStandby  NodeRole = "sync_standby"
	RoleAsyncStandby NodeRole = "async_standby"
)

type Node struct {
	Role        NodeRole
	ServerName  string
	DataDirName string
	Port        int
}

// Topology is the full node layout of one cluster. Node order is significant:
// bring-up walks Nodes() forwards, teardown walks it backwards.
type Topology struct {
	ClusterID string

	Primary       *Node
	SyncStandbys  []*Node
	AsyncStandbys []*Node
}

// Nodes returns every node in dependency order: primary, then synchronous
// standbys ascending, then asynchronous standbys ascending.
func (t *Topology) Nodes() []*Node {
	nodes := make([]*Node, 0, 1+len(t.SyncStandbys)+len(t.AsyncStandbys))
	nodes = append(nodes, t.Primary)
	nodes = append(nodes, t.SyncStandbys...)
	nodes = append(nodes, t.AsyncStandbys...)
	return nodes
}

func (t *Topology) ServerNames() []string {
	nodes := t.Nodes()
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.ServerName)
	}
	return names
}

func (t *Topology) Ports() []int {
	nodes := t.Nodes()
	ports := make([]int, 0, len(nodes))
	for _, node := range nodes {
		ports = append(ports, node.Port)
	}
	return ports
}

// SyncStandbyNames returns the names the primary must register in
// synchronous_standby_names before any node starts.
func (t *Topology) SyncStandbyNames() []string {
	names := make([]string, 0, len(t.SyncStandbys))
	for _, node := range t.SyncStandbys {
		names = append(names, node.ServerName)
	}
	return names
}

// Lookup finds a node by server name, or nil.
func (t *Topology) Lookup(serverName string) *Node {
	for _, node := range t.Nodes() {
		if node.ServerName == serverName {
			return node
		}
	}
	return nil
}
