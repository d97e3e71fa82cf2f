// Package api implements the gateway's control HTTP surface: liveness and
// counter endpoints, a synchronous write/read bridge onto the KNX bus, and a
// WebSocket stream of the gateway's normalised event feed.
//
// # Architecture
//
// The server sits in front of a single internal/gateway.Client. Writes and
// reads are translated into the client's Write/Read calls; the resulting bus
// indication, if any, still arrives asynchronously on the event stream rather
// than in the HTTP response.
//
// # Security
//
// /write, /read and /events require a bearer token validated as a JWT
// (github.com/golang-jwt/jwt/v5) against a single configured HMAC secret.
// This is a service credential, not a user/session system: device
// commissioning and per-caller ACLs are out of scope.
package api
