// Package domain contains the core entities of the dispatch pipeline: chat
// messages and the jobs that carry them to a session. It is independent of
// any transport, storage, or generation backend.
package domain
