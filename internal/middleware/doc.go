// Package middleware provides the gin middleware used by the demo server:
// request IDs, access logging and panic recovery.
package middleware
