// Package audit records who changed the hub's authorization data.
//
// Every administrative write that goes through rbac.Manager (role and
// permission edits, role assignments, overrides, cache flushes) produces an
// Event. Events are written to the audit_logs table by DBLogger; the
// NoopLogger discards them for tests and embedded use.
//
//	logger, err := audit.NewDBLogger(db)
//	mgr := rbac.NewManager(db, backend, tenantSvc, rbac.Options{Audit: logger})
//
// Audit failures never fail the write they describe; rbac.Manager logs them
// and moves on.
package audit
