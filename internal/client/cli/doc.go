// Package cli implements the finderid command line client.
//
// Every command opens the local cache, restores the cached session and
// probes the Remote Data Service. When the service answers, queued changes
// are replayed before the command runs; when it does not, the command works
// against the cache and mutations are queued for a later sync.
//
// The "shell" command keeps one App open and reads commands from stdin,
// running the connectivity probe and the pending-change poll in the
// background.
package cli
