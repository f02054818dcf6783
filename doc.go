// Package accounts owns the credential and account-state engine of an identity
// service: account creation and activation, password login with short-lived
// JWTs, role changes, deactivation and deletion requests, and the single-use
// password reset protocol.
//
// Account lifecycle:
//   - Accounts carry an AccountStatus. AccountStateMachine holds the transition
//     graph (PENDING -> ACTIVE -> DEACTIVATED | DELETION_REQUESTED, and
//     DEACTIVATED -> ACTIVE). DELETION_REQUESTED is a hold state that only an
//     external purge job may leave.
//   - Every status change is persisted through AccountStore.Update, a
//     compare-and-swap on Account.Version. Concurrent writers never both win.
//
// Authorization:
//   - Allow is a pure decision function consulted at the top of every Service
//     operation that has an actor. Admins may do anything, everyone else may only
//     touch their own account through self-scoped actions.
//
// Password reset:
//   - ResetTokenStore issues 256 bit tokens, persists only their SHA-256 digest
//     and consumes them with a single conditional update so a token succeeds at
//     most once.
//
// Events:
//   - Service emits one Event per state change through an EventPublisher.
//     Publishing is best effort: it is bounded by a timeout, failures are logged
//     and never undo the mutation that caused them.
package accounts
