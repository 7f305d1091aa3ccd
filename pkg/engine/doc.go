// Package engine reconciles desired HAProxy resources against the Data Plane
// API over its versioned transactions.
//
// # Overview
//
// A reconciliation call takes a desired resource, its identity key and a
// target state (present or absent), and converges the remote:
//
//  1. Validate - the desired resource is checked locally (model.Validate)
//  2. Read - the current resource is fetched (StateReader)
//  3. Compare - only fields set on the desired side are compared
//  4. Write - at most one create, update or delete is issued (ResourceWriter)
//  5. Commit - the engine's own transaction is committed (TransactionAPI)
//
// The decision table is:
//
//	present x not found             -> create
//	present x found, fields equal   -> noop
//	present x found, fields differ  -> update with the merged payload
//	absent  x found                 -> delete
//	absent  x not found             -> noop
//
// A failed read aborts the call. A 404 is never a failure: the reader always
// returns one of three outcomes (found, not found, failed).
//
// # Transactions
//
// Every Transaction follows a small state machine enforced locally:
//
//	none --open--> open --commit--> committed
//	                 |
//	                 +--discard--> discarded
//
// When the caller supplies a transaction id, writes go to it and the engine
// never commits or discards it, so several calls can be batched into one
// atomic commit. Otherwise the engine opens its own transaction against the
// freshly read version, commits it (or leaves it open with CommitNever), and
// discards it when a write or the commit fails.
//
// # Error Classification
//
// Errors are EngineError values classified as:
//
//   - validation: local checks failed, nothing was sent
//   - not_found: the remote object does not exist
//   - version_conflict: stale version at open or commit
//   - validation_failed: the remote rejected the configuration at commit
//   - transport: network failure, timeout or malformed response
//   - api: any other non-2xx response
//
// The engine never retries. IsRetryable tells callers which failures are worth
// re-running from freshly read state:
//
//	res, err := reconciler.Reconcile(ctx, req)
//	if engine.IsVersionConflict(err) {
//	    // re-read and reconcile again
//	}
package engine
