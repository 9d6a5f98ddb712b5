// Package platform defines the host-platform client surface the engine
// consumes: session creation, prompt dispatch, transcript retrieval,
// liveness polling, and abort. It also provides a tolerant JSONL parser
// for disk-backed transcripts and a scripted in-memory fake for tests.
package platform
