package cluster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/najoast/actormesh/core"
	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/najoast/actormesh/network"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// RemoteProtocol carries one tell or ask per stream.
const RemoteProtocol = "/actormesh/remote/1"

const codeHandler = "handler"

type remoteRequest struct {
	ID      string `msgpack:"id"`
	Name    string `msgpack:"name"`
	Kind    Kind   `msgpack:"kind"`
	Type    string `msgpack:"type"`
	Payload []byte `msgpack:"payload"`
}

type remoteReply struct {
	Type    string `msgpack:"type,omitempty"`
	Payload []byte `msgpack:"payload,omitempty"`
	// Code is empty on success, a wire code for delivery failures, or
	// codeHandler when the handler returned an error.
	Code    string `msgpack:"code,omitempty"`
	Message string `msgpack:"message,omitempty"`
}

func (n *Node) sendRemote(ctx context.Context, peer identity.PeerID, name string, msg any, kind Kind) (any, error) {
	start := time.Now()
	reply, err := n.roundTrip(ctx, peer, name, msg, kind)
	remoteDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	class := "ok"
	if err != nil {
		class = cerrors.Class(err)
	}
	remoteCounter.WithLabelValues(kind.String(), class).Inc()
	return reply, err
}

func (n *Node) roundTrip(ctx context.Context, peer identity.PeerID, name string, msg any, kind Kind) (any, error) {
	typeName, payload, err := messageTypes.encode(msg)
	if err != nil {
		return nil, err
	}
	req := remoteRequest{
		ID:      uuid.NewString(),
		Name:    name,
		Kind:    kind,
		Type:    typeName,
		Payload: payload,
	}

	s, err := n.host.NewStream(ctx, peer, RemoteProtocol)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.WriteMsg(&req); err != nil {
		return nil, cerrors.ErrPeerUnreachable.GenWithStackByArgs(peer.ShortString() + ": " + err.Error())
	}
	var rep remoteReply
	if err := s.ReadMsg(&rep); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cerrors.Trace(ctxErr)
		}
		return nil, cerrors.ErrPeerUnreachable.GenWithStackByArgs(peer.ShortString() + ": " + err.Error())
	}
	log.Debug("remote request done",
		zap.String("id", req.ID), zap.String("name", name), zap.Stringer("kind", kind), zap.String("code", rep.Code))

	switch {
	case rep.Code == "":
	case rep.Code == codeHandler:
		return nil, cerrors.ErrRemoteHandler.GenWithStackByArgs(name, rep.Message)
	default:
		if err := cerrors.FromWire(rep.Code, rep.Message); err != nil {
			return nil, err
		}
		return nil, cerrors.ErrRemoteDelivery.GenWithStackByArgs(name, rep.Message)
	}
	if kind == KindTell {
		return nil, nil
	}
	return messageTypes.decode(rep.Type, rep.Payload)
}

// handleRemote serves one request against the local registry, the same
// way a local caller would reach the target.
func (n *Node) handleRemote(ctx context.Context, s *network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(n.config.RequestTimeout))

	var req remoteRequest
	if err := s.ReadMsg(&req); err != nil {
		log.Debug("read remote request failed", zap.Stringer("peer", s.Peer()), zap.Error(err))
		return
	}
	rep := n.serveRemote(ctx, &req)
	if rep.Code != "" {
		log.Info("remote request failed",
			zap.String("id", req.ID), zap.String("name", req.Name),
			zap.Stringer("peer", s.Peer()), zap.String("code", rep.Code), zap.String("message", rep.Message))
	}
	if err := s.WriteMsg(rep); err != nil {
		log.Debug("write remote reply failed", zap.Stringer("peer", s.Peer()), zap.Error(err))
	}
}

func (n *Node) serveRemote(ctx context.Context, req *remoteRequest) *remoteReply {
	if n.closing.Load() {
		return failure(cerrors.ErrNodeShutdown.GenWithStackByArgs())
	}
	target, err := n.registry.Lookup(req.Name)
	if err != nil {
		return failure(err)
	}
	msg, err := messageTypes.decode(req.Type, req.Payload)
	if err != nil {
		return failure(err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.RequestTimeout)
	defer cancel()
	var reply any
	switch req.Kind {
	case KindTell:
		err = target.Tell(ctx, msg)
	case KindAsk:
		reply, err = target.Ask(ctx, msg)
	default:
		return &remoteReply{Code: codeHandler, Message: "unknown request kind"}
	}
	if err != nil {
		return failure(err)
	}
	if _, ok := reply.(core.Unit); ok {
		reply = nil
	}
	typeName, payload, err := messageTypes.encode(reply)
	if err != nil {
		return failure(err)
	}
	return &remoteReply{Type: typeName, Payload: payload}
}

func failure(err error) *remoteReply {
	code := cerrors.WireCode(err)
	if code == "" {
		code = codeHandler
	}
	return &remoteReply{Code: code, Message: err.Error()}
}
