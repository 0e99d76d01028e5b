// Package core implements the in-process actor runtime of actormesh.
//
// An actor is spawned with a bounded mailbox and processes its messages one
// at a time on its own goroutine. Callers hold a *Ref and talk to it with
// Tell (fire-and-forget) or Ask (request-reply). A Pool groups a fixed number
// of homogeneous actors and offers round-robin dispatch and broadcast.
//
// Message types bind their reply type by embedding Reply[R]:
//
//	type Add struct {
//		core.Reply[uint32]
//		A, B uint32
//	}
//
//	sum, err := core.Ask[uint32](ctx, ref, Add{A: 1, B: 2})
package core
