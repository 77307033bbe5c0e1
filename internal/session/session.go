// Package session manages durable per-token session records for both
// anonymous and signed-in visitors.
//
// A Store maps the request's signed cookie to a token and owns token
// allocation. Each token addresses exactly one Unit, which holds that
// token's Record in a Backend (Redis in production) and enforces expiry
// lazily: an expired record is deleted the next time it is read.
package session
