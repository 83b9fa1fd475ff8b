// Package api hosts the HTTP handlers that front the poll REST API.
//
// Handlers coordinate payload validation, voter identity derivation, and
// response shaping while delegating persistence to storage.Repository
// implementations injected at construction time. Realtime fan-out happens
// indirectly: accepted votes publish to the injected hub.Queue and the hub
// delivers them to connected viewers.
//
// Handler implementations assume upstream middleware from internal/server has
// already applied logging, metrics, security headers, request IDs, and the
// global throttle. The per-voter vote limiter lives here because its key
// depends on the request's fingerprint hash.
package api
