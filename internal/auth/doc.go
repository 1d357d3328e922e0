// Package auth handles JWT authentication for the gateway.
//
// Tokens are HS256-signed JWTs carrying three claims: "sub" (the user or
// agent ID), "role" (user, agent, or admin), and optionally "name" (display
// name). JWTVerifier validates tokens and produces an Identity; Middleware
// attaches that Identity to the request context where handlers retrieve it
// with FromContext.
//
// Websocket clients may pass the token either as a bearer Authorization
// header or as a "token" query parameter, since browsers cannot set headers
// on WebSocket upgrade requests.
package auth
