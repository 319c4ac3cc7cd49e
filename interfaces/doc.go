// Package interfaces defines the core types, interfaces and sentinel errors of the
// ELOC provisioning toolkit, separating definitions from implementations.
//
// # Record Types
//
// Record: the device's factory configuration table (nvs.csv), an ordered list of
// key/type/encoding/value Fields. Well-known keys are serial, hw_gen, hw_rev,
// devEUI, appKey and nwkKey.
//
// AuditEntry: one immutable row of the provisioning audit trail.
//
// # Storage Interfaces
//
// RecordStore: whole-record load and atomic replace, plus an exclusive
// transaction lock.
//
// AuditLog: append-only history of provisioning transactions.
//
// ArchiveBackend: content-addressed copies of provisioning artifacts across
// backend types (file, S3).
//
// # Collaborator Interfaces
//
// Builder, ImageGenerator and Flasher wrap the external build, NVS generation and
// flashing tools. PortDiscoverer lists available serial connections.
//
// # Errors
//
// Failures are reported through sentinel errors (ErrStoreNotFound,
// ErrMalformedRecord, ErrStoreLocked, ...) wrapped with context, so callers match
// them with errors.Is. The one struct error, AuditAppendFailedAfterCommitError,
// marks the window where a record was committed but its audit row was not.
package interfaces
