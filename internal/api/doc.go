// Package api handles incoming HTTP requests, request validation, and
// response formatting. It adapts HTTP to the job service and the
// synchronous gateway.
package api
