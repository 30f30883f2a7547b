// Package auth issues and verifies the bearer tokens accepted by the
// experiment API.
//
// Tokens are HS256 JWTs carrying only registered claims. The subject names
// the caller and is written to the audit log; the issuer is checked when
// one is configured. There is no user store: tokens are minted by
// operators with `reverie token` and handed to the simulation UI.
package auth
