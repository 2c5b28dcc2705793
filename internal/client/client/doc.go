// Package client talks to the FinderID Remote Data Service.
//
// Client is the transport-agnostic contract used by the sync coordinator
// and the entity services: collection-level Insert/Update/Delete/Select,
// the authenticated session, binary uploads and a reachability probe.
// GRPCClient implements it over gRPC with a JSON codec. It injects the
// access token into every call, refreshes an expired token once and maps
// gRPC status codes onto the sentinel errors of this package.
//
// The generic helpers (InsertOne, SelectAll, UpdateOne, ...) decode rows
// into the typed records of the models package.
package client
