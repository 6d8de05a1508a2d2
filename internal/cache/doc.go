// Package cache stores authorization decisions so repeated checks of the
// same principal, resource and action do not reach Cerbos.
//
// Two backends are available: an in-process expiring LRU and Redis.
// Decisions are keyed by DecisionKey and expire after the configured TTL.
package cache
