package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/najoast/actormesh/bootstrap"
)

// NodeService runs a Node under the bootstrap lifecycle manager.
type NodeService struct {
	node *Node
}

// NewNodeService wraps node.
func NewNodeService(node *Node) *NodeService {
	return &NodeService{node: node}
}

func (ns *NodeService) Name() string {
	return "cluster"
}

func (ns *NodeService) Start(ctx context.Context) error {
	return ns.node.Start(ctx)
}

// Stop closes the node. Registrations are refused from this point on.
func (ns *NodeService) Stop(ctx context.Context) error {
	return ns.node.Close()
}

func (ns *NodeService) Health(ctx context.Context) (bootstrap.HealthStatus, error) {
	state := ns.node.State()
	peers := len(ns.node.Host().Peers())

	status := bootstrap.HealthStatus{
		LastCheck: time.Now(),
		Message:   fmt.Sprintf("node %s with %d peers", state, peers),
		Data: map[string]interface{}{
			"peer":          ns.node.ID().String(),
			"state":         state.String(),
			"peers":         peers,
			"routing_table": ns.node.DHT().RoutingTable().Size(),
			"names":         ns.node.Registry().Names(),
		},
	}
	switch state {
	case NodeStateConnected:
		status.State = bootstrap.HealthHealthy
	case NodeStateBootstrapping:
		status.State = bootstrap.HealthStarting
	case NodeStatePartitioned:
		status.State = bootstrap.HealthUnhealthy
	default:
		status.State = bootstrap.HealthStopped
	}
	return status, nil
}

// Node returns the wrapped node.
func (ns *NodeService) Node() *Node {
	return ns.node
}

// RegistrationGate refuses new registrations when stopped. Registered to
// start after the actor system, it stops before the pools are drained.
type RegistrationGate struct {
	node *Node
}

// NewRegistrationGate gates registrations on node.
func NewRegistrationGate(node *Node) *RegistrationGate {
	return &RegistrationGate{node: node}
}

func (g *RegistrationGate) Name() string { return "registration-gate" }

func (g *RegistrationGate) Start(context.Context) error { return nil }

func (g *RegistrationGate) Stop(context.Context) error {
	g.node.RefuseRegistrations()
	return nil
}

func (g *RegistrationGate) Health(context.Context) (bootstrap.HealthStatus, error) {
	if g.node.refusing.Load() {
		return bootstrap.HealthStatus{State: bootstrap.HealthStopped}, nil
	}
	return bootstrap.HealthStatus{State: bootstrap.HealthHealthy}, nil
}
