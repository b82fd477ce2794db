// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package security holds the account and input policies: password rules,
login lockout, role based permissions, free-text sanitizing, sessions and
bearer tokens.

# Lockout

Failures are counted per actor and origin. At the threshold (default 5) the
pair is locked for the configured duration (default 15 minutes), doubling
on each repeated lockout up to MaxDuration when exponential backoff is on.
A timer releases the lock when it elapses; reads release it too if the
timer has not run yet. Lock and unlock events are written to the audit log
and lock state is written through to the "lockout" store namespace.

Check returns an apperr.KindRateLimited error wrapping ErrAccountLocked
with the unlock time as RetryAt.

# Permissions

Permissions uses casbin with an embedded RBAC model and policy:

	admin ─► manager ─► member ─► viewer

Each role inherits the permissions of the roles to its right. Actors with no
role, unknown resources and evaluation errors are denied, and every denial
is audited as permission.denied.

# Sanitizing

Sanitizer.Text is lossy. It strips markup, control characters and the
javascript, vbscript, data and file URL schemes. Output still has to be
encoded for the context it is rendered in.

# Sessions and tokens

Authenticator.Login checks the per-origin attempt budget, then the lock,
then the bcrypt hash. A successful login creates a Session and signs an
HS256 token bound to it. Authenticate rejects tokens whose session was
revoked or has idled out, so Logout takes effect before the token expires.
*/
package security
