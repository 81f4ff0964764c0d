package actor

import "github.com/actorkit/tdcore/internal/telemetry"

// Context is the optional heap-allocated, inheritable state an actor can
// carry: a logging tag and arbitrary user data. Spawn uses exactly the
// Context it is given and inherits nothing on its own; a parent hands its
// Context down by spawning with c.Context().Child(tag). Through Child the
// tag is shared (logiface/izerolog loggers are safe for concurrent use),
// while UserData starts nil for the child so one actor's private data is
// never aliased into another's.
type Context struct {
	Log      *telemetry.Logger
	UserData any
}

// Child derives a new Context for a freshly spawned actor, inheriting Log
// (optionally re-tagged) but never UserData.
func (c Context) Child(tag string) Context {
	log := c.Log
	if log != nil && tag != "" {
		log = log.With(tag)
	}
	return Context{Log: log}
}
