// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package auth implements the Taskboard credential and session lifecycle.
//
// # Domain Types
//
// Accounts are created with NewAccount, which validates the username and
// email and requires an already computed password hash. A pending password
// reset lives on the account as a PendingReset holding only the SHA-256
// digest of the token and its expiry, so the two are always set together.
//
// Session tokens are HS256 JWTs issued by TokenIssuer. They are not stored;
// logout is stateless unless a Revoker with memory is configured.
//
// # Services
//
//   - Service - register, login, logout, me, forgot and reset password
//   - ResetTokenManager - issues and consumes single-use reset tokens
//   - Janitor - periodically clears expired reset tokens
//
// Failures carry one of the Code* oops codes. Repository implementations
// live in the memory, mongo and postgres subpackages.
package auth
