// Package session manages the lifecycle of a client-side authentication
// session: logging in, deciding whether the bearer token is fresh,
// refreshing it, restoring it at start-up and logging out.
//
// # Storage layout
//
// The token and its expiry live in the persistent backend because every
// outbound request reads them. The user profile lives in the durable
// backend, which is larger and opened lazily.
//
//	auth_token    persistent  string
//	token_expiry  persistent  unix milliseconds
//	user_data     durable     Profile
//
// # Freshness
//
// A single Policy classifies the stored expiry as Fresh, Expiring or
// Expired. ShouldRefresh is the proactive check (Expiring only).
// RefreshWarranted is the reactive check used after a 401 (any time left).
//
// # What this package must NOT do
//
// Manager.Refresh never logs out on failure. Deciding to drop the session
// after a failed refresh belongs to the request pipeline.
package session
