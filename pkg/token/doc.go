// Package token provides compact, HMAC-signed tokens for embedding JSON
// payloads, plus a small confirmation-token service used by the
// post-checkout redirect page.
//
// Tokens use HMAC-SHA256 with truncated 8-byte signatures for balance
// between security and compactness. They are a display convenience, not an
// entitlement boundary: the redirect page uses them to show "what changed"
// without re-authenticating against the payment provider.
//
// Token format: base64url(payload).base64url(signature)
package token
