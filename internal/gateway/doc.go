// Package gateway orchestrates the parley-gateway server components.
//
// # Overview
//
// The gateway owns the SQLite store, the pub/sub broker, the JWT verifier
// and the HTTP server. Writes go through conversation.Service, which
// persists first and then publishes conversation events to every member's
// routing key (their email address). Clients keep their list in sync by
// subscribing to that key, see package convsync.
//
// # Broker Selection
//
// broker.kind picks the backend:
//
//	memory  in-process Broadcaster, single gateway only
//	nats    core NATS subjects <prefix>.user.<key>
//	redis   Redis channels <prefix>:user:<key>
//
// # HTTP API
//
// Public:
//
//	GET  /health
//	POST /api/register          {email, name, password}
//	POST /api/login             {email, password} -> {token, user}
//
// Bearer token required:
//
//	GET    /api/me
//	GET    /api/users
//	GET    /api/conversations                 snapshot, most recent first
//	POST   /api/conversations                 {user_id} or {is_group, name, members}
//	DELETE /api/conversations/{id}
//	POST   /api/conversations/{id}/messages   {body, image}
//	POST   /api/settings                      {name, image}
//
// Errors are JSON {"error": "..."} except /api/settings, which answers
// "Unauthorized" (401) and "Internal Error: Profile Settings" (500) as
// plain text.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
