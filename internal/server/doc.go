// Package server implements the control RPC server: the framed JSON
// protocol that sourcefsctl and other tooling use to drive the daemon.
// Requests are admitted through a rate limiter, queued, and executed by a
// fixed pool of request workers.
package server
