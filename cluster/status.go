package cluster

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pgforge/pgforge/cluster/bootstrap"
	"github.com/pgforge/pgforge/cluster/descriptor"
	"github.com/pgforge/pgforge/cluster/topology"
)

// StandbyStatus describes one expected standby as seen from the primary's
// replication view. Attached is false when the standby has no walsender
// connected, in which case State and SyncState are empty.
type StandbyStatus struct {
	ServerName string
	Role       topology.NodeRole
	Port       int
	Attached   bool
	State      string
	SyncState  string
}

// Status loads the persisted topology and asks the primary which standbys
// are actually attached, via pg_stat_replication. Read-only; requires the
// primary to be running.
func (m *Manager) Status(ctx context.Context, dataRoot string) ([]StandbyStatus, error) {
	if dataRoot == "" {
		return nil, ErrMissingDataRoot
	}

	topo, err := descriptor.Load(dataRoot)
	if err != nil {
		return nil, err
	}

	connStr := fmt.Sprintf("host=%s port=%d dbname=postgres sslmode=disable",
		bootstrap.ReplicationHost, topo.Primary.Port)

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary %s: %w", topo.Primary.ServerName, err)
	}
	defer func() {
		_ = conn.Close(ctx)
	}()

	rows, err := conn.Query(ctx,
		`SELECT application_name, state, sync_state FROM pg_stat_replication`)
	if err != nil {
		return nil, fmt.Errorf("failed to query replication state: %w", err)
	}
	defer rows.Close()

	type replRow struct {
		state     string
		syncState string
	}
	attached := make(map[string]replRow)

	for rows.Next() {
		var name, state, syncState string
		if err := rows.Scan(&name, &state, &syncState); err != nil {
			return nil, fmt.Errorf("failed to scan replication row: %w", err)
		}
		attached[name] = replRow{state: state, syncState: syncState}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replication rows: %w", err)
	}

	var statuses []StandbyStatus
	for _, node := range topo.Nodes() {
		if node.Role == topology.RolePrimary {
			continue
		}

		status := StandbyStatus{
			ServerName: node.ServerName,
			Role:       node.Role,
			Port:       node.Port,
		}
		if row, ok := attached[node.ServerName]; ok {
			status.Attached = true
			status.State = row.state
			status.SyncState = row.syncState
		} else {
			m.logger.Warn("standby is not attached to the primary",
				zap.String("server", node.ServerName))
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}
