// Package errors defines the normalized errors shared by every actormesh
// package. Each error belongs to exactly one class, encoded as the prefix of
// its RFC code: Delivery, Remote, Lifecycle or Cancellation.
package errors

import (
	"github.com/pingcap/errors"
)

// delivery errors
var (
	ErrMailboxClosed = errors.Normalize(
		"mailbox of %s is closed",
		errors.RFCCodeText("Delivery:ErrMailboxClosed"),
	)
	ErrMailboxFull = errors.Normalize(
		"mailbox of %s is full",
		errors.RFCCodeText("Delivery:ErrMailboxFull"),
	)
	ErrActorNotFound = errors.Normalize(
		"actor %s not found",
		errors.RFCCodeText("Delivery:ErrActorNotFound"),
	)
	ErrHandlerPanicked = errors.Normalize(
		"handler of %s panicked: %v",
		errors.RFCCodeText("Delivery:ErrHandlerPanicked"),
	)
	ErrUnhandledMessage = errors.Normalize(
		"%s cannot handle message of type %T",
		errors.RFCCodeText("Delivery:ErrUnhandledMessage"),
	)
	ErrReplyTypeMismatch = errors.Normalize(
		"reply of type %T is not assignable to %s",
		errors.RFCCodeText("Delivery:ErrReplyTypeMismatch"),
	)
	ErrPoolStopped = errors.Normalize(
		"pool %s is stopped",
		errors.RFCCodeText("Delivery:ErrPoolStopped"),
	)
)

// remote errors
var (
	ErrNoPeers = errors.Normalize(
		"no peers available",
		errors.RFCCodeText("Remote:ErrNoPeers"),
	)
	ErrPeerUnreachable = errors.Normalize(
		"peer %s is unreachable",
		errors.RFCCodeText("Remote:ErrPeerUnreachable"),
	)
	ErrSerialization = errors.Normalize(
		"serialization failed: %s",
		errors.RFCCodeText("Remote:ErrSerialization"),
	)
	ErrUnknownMessageType = errors.Normalize(
		"message type %s is not registered",
		errors.RFCCodeText("Remote:ErrUnknownMessageType"),
	)
	ErrNameNotResolved = errors.Normalize(
		"name %s could not be resolved",
		errors.RFCCodeText("Remote:ErrNameNotResolved"),
	)
	ErrRemoteHandler = errors.Normalize(
		"remote handler of %s failed: %s",
		errors.RFCCodeText("Remote:ErrRemoteHandler"),
	)
	ErrRemoteDelivery = errors.Normalize(
		"remote delivery to %s failed: %s",
		errors.RFCCodeText("Remote:ErrRemoteDelivery"),
	)
	ErrHandshakeFailed = errors.Normalize(
		"secure handshake failed: %s",
		errors.RFCCodeText("Remote:ErrHandshakeFailed"),
	)
	ErrPeerMismatch = errors.Normalize(
		"expected peer %s but connected to %s",
		errors.RFCCodeText("Remote:ErrPeerMismatch"),
	)
	ErrUnsupportedAddr = errors.Normalize(
		"unsupported address %s",
		errors.RFCCodeText("Remote:ErrUnsupportedAddr"),
	)
	ErrUnknownProtocol = errors.Normalize(
		"protocol %s is not supported",
		errors.RFCCodeText("Remote:ErrUnknownProtocol"),
	)
	ErrFrameTooLarge = errors.Normalize(
		"frame of %d bytes exceeds limit %d",
		errors.RFCCodeText("Remote:ErrFrameTooLarge"),
	)
	ErrRecordNotFound = errors.Normalize(
		"record %s not found",
		errors.RFCCodeText("Remote:ErrRecordNotFound"),
	)
	ErrNodeShutdown = errors.Normalize(
		"node is shutting down",
		errors.RFCCodeText("Remote:ErrNodeShutdown"),
	)
)

// lifecycle errors
var (
	ErrAlreadyStopped = errors.Normalize(
		"%s is already stopping or stopped",
		errors.RFCCodeText("Lifecycle:ErrAlreadyStopped"),
	)
	ErrActorStartFailed = errors.Normalize(
		"%s failed to start: %v",
		errors.RFCCodeText("Lifecycle:ErrActorStartFailed"),
	)
	ErrPoolStartup = errors.Normalize(
		"pool %s failed to start worker %d: %v",
		errors.RFCCodeText("Lifecycle:ErrPoolStartup"),
	)
	ErrInvalidCapacity = errors.Normalize(
		"mailbox capacity must be positive, got %d",
		errors.RFCCodeText("Lifecycle:ErrInvalidCapacity"),
	)
	ErrInvalidPoolSize = errors.Normalize(
		"pool size must be positive, got %d",
		errors.RFCCodeText("Lifecycle:ErrInvalidPoolSize"),
	)
	ErrNameRegistered = errors.Normalize(
		"name %s is already registered",
		errors.RFCCodeText("Lifecycle:ErrNameRegistered"),
	)
	ErrSystemShutdown = errors.Normalize(
		"actor system is shut down",
		errors.RFCCodeText("Lifecycle:ErrSystemShutdown"),
	)
	ErrNodeStarted = errors.Normalize(
		"node is already started",
		errors.RFCCodeText("Lifecycle:ErrNodeStarted"),
	)
)

// cancellation errors
var (
	ErrActorStopped = errors.Normalize(
		"%s stopped before the message was processed",
		errors.RFCCodeText("Cancellation:ErrActorStopped"),
	)
)

var (
	deliveryErrors = []*errors.Error{
		ErrMailboxClosed, ErrMailboxFull, ErrActorNotFound, ErrHandlerPanicked,
		ErrUnhandledMessage, ErrReplyTypeMismatch, ErrPoolStopped,
	}
	remoteErrors = []*errors.Error{
		ErrNoPeers, ErrPeerUnreachable, ErrSerialization, ErrUnknownMessageType,
		ErrNameNotResolved, ErrRemoteHandler, ErrRemoteDelivery, ErrHandshakeFailed,
		ErrPeerMismatch, ErrUnsupportedAddr, ErrUnknownProtocol, ErrFrameTooLarge,
		ErrRecordNotFound, ErrNodeShutdown,
	}
	lifecycleErrors = []*errors.Error{
		ErrAlreadyStopped, ErrActorStartFailed, ErrPoolStartup, ErrInvalidCapacity,
		ErrInvalidPoolSize, ErrNameRegistered, ErrSystemShutdown, ErrNodeStarted,
	}
	cancellationErrors = []*errors.Error{ErrActorStopped}
)

func matchAny(err error, class []*errors.Error) bool {
	if err == nil {
		return false
	}
	for _, e := range class {
		if e.Equal(err) {
			return true
		}
	}
	return false
}

// IsDeliveryError reports whether err means a message could not be handed to
// a local actor.
func IsDeliveryError(err error) bool {
	return matchAny(err, deliveryErrors)
}

// IsRemoteError reports whether err comes from the network layer or a peer.
func IsRemoteError(err error) bool {
	return matchAny(err, remoteErrors)
}

// IsLifecycleError reports whether err is a startup or stop failure.
func IsLifecycleError(err error) bool {
	return matchAny(err, lifecycleErrors)
}

// IsCancellationError reports whether err means a pending ask was cancelled
// because its actor stopped.
func IsCancellationError(err error) bool {
	return matchAny(err, cancellationErrors)
}

// Class returns the class name of err, or "unknown".
func Class(err error) string {
	switch {
	case IsDeliveryError(err):
		return "delivery"
	case IsRemoteError(err):
		return "remote"
	case IsLifecycleError(err):
		return "lifecycle"
	case IsCancellationError(err):
		return "cancellation"
	default:
		return "unknown"
	}
}

// Trace, Annotate and Cause re-export the helpers of the underlying error
// library so callers need a single import.
var (
	Trace     = errors.Trace
	Annotate  = errors.Annotate
	Annotatef = errors.Annotatef
	Cause     = errors.Cause
	Errorf    = errors.Errorf
	New       = errors.New
)

// wireErrors are the errors a peer reports back to a remote caller under a
// stable code.
var wireErrors = map[string]*errors.Error{
	"mailbox_closed":       ErrMailboxClosed,
	"mailbox_full":         ErrMailboxFull,
	"actor_not_found":      ErrActorNotFound,
	"handler_panicked":     ErrHandlerPanicked,
	"unhandled_message":    ErrUnhandledMessage,
	"pool_stopped":         ErrPoolStopped,
	"actor_stopped":        ErrActorStopped,
	"serialization":        ErrSerialization,
	"unknown_message_type": ErrUnknownMessageType,
	"node_shutdown":        ErrNodeShutdown,
}

// WireCode returns the code under which err crosses the network, or ""
// when err is not one of the errors peers exchange.
func WireCode(err error) string {
	if err == nil {
		return ""
	}
	for code, e := range wireErrors {
		if e.Equal(err) {
			return code
		}
	}
	return ""
}

// FromWire rebuilds the error reported under code with the remote message.
// It returns nil for an unknown code.
func FromWire(code, msg string) error {
	e, ok := wireErrors[code]
	if !ok {
		return nil
	}
	return e.GenWithStack("%s", msg)
}
