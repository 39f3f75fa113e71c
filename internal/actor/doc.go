// Package actor serializes work per chat session.
//
// Every session id maps to exactly one live Actor, whose identity is a
// name-based UUID derived from the session id so it is stable across
// processes and restarts. An Actor runs at most one generation at a time;
// concurrent callers for the same session wait their turn, while different
// sessions proceed in parallel. The Router owns the session-to-actor map,
// creates actors on first use, and evicts actors that have been idle.
package actor
