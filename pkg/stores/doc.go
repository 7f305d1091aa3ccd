// Package stores keeps a local journal of apply runs in SQLite.
//
// Every apply creates a Run. The reconciliation outcome of each resource is
// appended as a Change, and the Data Plane API transactions the run opened
// are tracked as Transactions. The journal answers "what did the last runs
// do" and "when did this backend last change" without asking the remote.
//
// The database runs in WAL mode with foreign keys enabled. Schema changes
// are embedded migrations applied by Migrate.
package stores
