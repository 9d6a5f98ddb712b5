// Package orchestrator coordinates delegated agent sessions. Every
// delegation is guarded (role, depth, self-delegation) before a session
// exists, tracked as a job record, mirrored into the team directory, and
// resolved through a race between the registry's completion future and a
// liveness polling fallback. Idle reports are confirmed before they are
// trusted; a session can look idle between tool calls.
package orchestrator
