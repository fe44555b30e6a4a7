// Package zk implements an asynchronous client for a hierarchical
// coordination service whose wire protocol matches Apache ZooKeeper 3.x.
//
// A Client is a handle cloneable across goroutines. All clones of a Client
// share one session actor: a single goroutine that owns the socket, drives
// the session state machine, and is the only mutator of session-scoped
// state. Application goroutines talk to it exclusively by submitting
// requests through a channel and waiting on a per-request reply channel.
//
// The components that make up the package are, leaf to root: the wire
// codec (codec.go, proto.go), the path/chroot utility (path.go), the watch
// registry (watch.go), the request pipeline (pending.go), the session
// engine (session.go), and the public facade (client.go).
package zk
