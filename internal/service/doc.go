// Package service contains the application use cases behind the HTTP API.
//
// JobService accepts conversation turns for asynchronous processing and
// serves the published results. It depends on the queue.Producer and
// cache.ResultCache abstractions, never on a concrete transport or store.
package service
