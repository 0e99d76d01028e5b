package cluster

import (
	"context"
	"time"

	"github.com/najoast/actormesh/core"
	cerrors "github.com/najoast/actormesh/errors"
	"github.com/pingcap/log"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const nameKeyPrefix = "/actormesh/name/"

func nameKey(name string) string {
	return nameKeyPrefix + name
}

// Register binds name to target locally and publishes the binding in the
// directory. It fails with ErrNoPeers while the node is not Connected and
// rolls the local binding back on any failure. The binding is not renewed
// automatically.
func (n *Node) Register(ctx context.Context, name string, target core.Target) error {
	if n.closing.Load() || n.refusing.Load() {
		return cerrors.ErrNodeShutdown.GenWithStackByArgs()
	}
	if err := n.registry.Register(name, target); err != nil {
		return err
	}
	if err := n.publishName(ctx, name); err != nil {
		n.registry.Unregister(name)
		registerCounter.WithLabelValues("error").Inc()
		return err
	}
	registerCounter.WithLabelValues("ok").Inc()
	log.Info("name registered",
		zap.String("name", name), zap.Stringer("target", target), zap.Stringer("peer", n.ID()))
	return nil
}

func (n *Node) publishName(ctx context.Context, name string) error {
	if n.State() != NodeStateConnected {
		return cerrors.ErrNoPeers.GenWithStackByArgs()
	}
	reg := Registration{
		Name:      name,
		Peer:      n.ID(),
		Addrs:     n.host.Addrs(),
		Timestamp: time.Now().UnixNano(),
	}
	data, err := msgpack.Marshal(&reg)
	if err != nil {
		return cerrors.ErrSerialization.GenWithStackByArgs(err.Error())
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	return n.dir.Put(ctx, nameKey(name), data)
}

// Unregister removes the local binding of name. Peers that resolved it
// before get ErrActorNotFound from this node afterwards.
func (n *Node) Unregister(name string) bool {
	return n.registry.Unregister(name)
}

// Resolve finds the registration of name, from the cache first and then
// from the directory.
func (n *Node) Resolve(ctx context.Context, name string) (*Registration, error) {
	if v, ok := n.cache.Get(name); ok {
		resolveCounter.WithLabelValues("cache").Inc()
		return v.(*Registration), nil
	}
	if n.State() != NodeStateConnected {
		return nil, cerrors.ErrNoPeers.GenWithStackByArgs()
	}

	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	rec, err := n.dir.Get(ctx, nameKey(name))
	if err != nil {
		resolveCounter.WithLabelValues("error").Inc()
		if cerrors.ErrRecordNotFound.Equal(err) {
			return nil, cerrors.ErrNameNotResolved.GenWithStackByArgs(name)
		}
		return nil, err
	}
	reg := &Registration{}
	if err := msgpack.Unmarshal(rec.Value, reg); err != nil {
		return nil, cerrors.ErrSerialization.GenWithStackByArgs(err.Error())
	}
	// Only the owning peer may publish a binding to itself.
	if reg.Name != name || reg.Peer != rec.Publisher {
		log.Warn("ignoring forged registration",
			zap.String("name", name), zap.Stringer("publisher", rec.Publisher), zap.Stringer("claimed", reg.Peer))
		return nil, cerrors.ErrNameNotResolved.GenWithStackByArgs(name)
	}
	resolveCounter.WithLabelValues("directory").Inc()
	n.cache.Add(name, reg)
	return reg, nil
}

// ResolveAndSend delivers msg to the actor or pool registered as name. A
// name owned by this node is delivered locally; otherwise the binding is
// resolved and the request forwarded to the owning peer. For KindTell the
// reply is always nil.
func (n *Node) ResolveAndSend(ctx context.Context, name string, msg any, kind Kind) (any, error) {
	if target, err := n.registry.Lookup(name); err == nil {
		return deliverLocal(ctx, target, msg, kind)
	}
	if n.closing.Load() {
		return nil, cerrors.ErrNodeShutdown.GenWithStackByArgs()
	}
	if n.State() != NodeStateConnected {
		return nil, cerrors.ErrNoPeers.GenWithStackByArgs()
	}

	reg, err := n.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if reg.Peer == n.ID() {
		// Our own stale binding: the name was unregistered here.
		n.cache.Remove(name)
		return nil, cerrors.ErrActorNotFound.GenWithStackByArgs(name)
	}
	n.host.AddAddrs(reg.Peer, reg.Addrs...)

	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	reply, err := n.sendRemote(ctx, reg.Peer, name, msg, kind)
	if err != nil && (isTransportError(err) || cerrors.ErrActorNotFound.Equal(err)) {
		n.cache.Remove(name)
	}
	return reply, err
}

func deliverLocal(ctx context.Context, target core.Target, msg any, kind Kind) (any, error) {
	if kind == KindTell {
		return nil, target.Tell(ctx, msg)
	}
	return target.Ask(ctx, msg)
}

// isTransportError reports failures of the path to the peer rather than of
// the request itself.
func isTransportError(err error) bool {
	if cerrors.WireCode(err) != "" || cerrors.ErrRemoteHandler.Equal(err) {
		return false
	}
	return true
}

func (n *Node) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.config.RequestTimeout)
}

// Ask sends msg to the actor registered as name and returns its typed
// reply. Message and reply types must be registered with RegisterMessage
// when name is owned by another peer.
func Ask[R any](ctx context.Context, n *Node, name string, msg core.Request[R]) (R, error) {
	reply, err := n.ResolveAndSend(ctx, name, msg, KindAsk)
	if err != nil {
		var zero R
		return zero, err
	}
	return core.CastReply[R](reply)
}

// Tell sends msg to the actor registered as name without waiting for it to
// be processed.
func Tell(ctx context.Context, n *Node, name string, msg any) error {
	_, err := n.ResolveAndSend(ctx, name, msg, KindTell)
	return err
}
