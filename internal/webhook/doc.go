// Package webhook serves HMAC-SHA256 signed hook endpoints that reload the
// functions document or run one operation.
//
// A hook lets an external system (a git host after a push, a CI job, a
// chat integration) drive switchboard without holding an API token. Every
// endpoint has its own pre-shared secret.
//
// # Security Model
//
// - HMAC-SHA256 signatures verified using crypto/subtle (constant-time comparison)
// - Body size limits enforced before verification
// - No signature details leaked in error responses (always generic 403)
// - Request logging excludes payloads
//
// # Redelivery
//
// Senders that retry set a delivery id header (delivery_header, default
// X-Webhook-Delivery). A verified request whose id was already applied on the
// same endpoint gets 200 {"duplicate": true} and the action does not run
// again. A failed reload or an unrouted call is forgotten so it can be
// retried.
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8091"
//	  endpoints:
//	    - path: /hooks/deploy
//	      action: reload
//	      secret: ${DEPLOY_HOOK_SECRET}
//	    - path: /hooks/message
//	      action: call
//	      operation: process_message
//	      secret: ${MESSAGE_HOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      delivery_header: X-GitHub-Delivery
//	      max_body_size: 64KB
//
// # Error Responses
//
// - 403 Forbidden: Invalid or missing signature (no details)
// - 404 Not Found: Unknown hook path
// - 413 Payload Too Large: Body exceeds max_body_size
// - 422 Unprocessable Entity: Reload rejected, previous version still active
// - 503 Service Unavailable: The operation could not be routed
package webhook
