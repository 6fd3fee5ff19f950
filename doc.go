// Package shadowmesh implements the credential and one-time-code subsystem
// behind the ShadowMesh community site: admin login with persistent lockout,
// TOTP-based two-factor authentication for admins and members, single-use
// backup codes, and rate-limited password reset for both principal classes.
//
// The engine is storage-agnostic: credential state is read and written
// through the credential.Store interface (the shipped implementation is
// Redis-backed, because lockout state has to survive restarts), outbound
// email goes through mail.Sender, and the in-process rate limiter is owned
// by the engine instance rather than shared package state. Construct an
// Engine with the Builder and call the per-flow methods; HTTP exposure
// lives in the httpapi package.
package shadowmesh
