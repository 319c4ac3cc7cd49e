package interfaces

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreNotFound is returned when the backing file of a record store does not exist.
	ErrStoreNotFound = errors.New("record store not found")

	// ErrMalformedRecord is returned when a record cannot be parsed into fields, or its
	// header does not match the key,type,encoding,value schema.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrFieldNotFound is returned when a record has no field with the requested key.
	ErrFieldNotFound = errors.New("field not found")

	// ErrStoreLocked is returned when another process holds the record store lock.
	ErrStoreLocked = errors.New("record store is locked by another process")

	// ErrMalformedAudit is returned when the audit log header or a row cannot be parsed.
	ErrMalformedAudit = errors.New("malformed audit log")

	// ErrContentNotFound is returned when requested content cannot be found in an archive backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidLocationURI is returned when an archive location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// RecordStore owns the on-disk provisioning record and supports whole-record
// read-modify-write transactions.
type RecordStore interface {
	// LoadAll reads every field of the record.
	LoadAll(ctx context.Context) (*Record, error)

	// SaveAll replaces the backing storage with the given record.
	SaveAll(ctx context.Context, record *Record) error

	// Lock acquires exclusive access to the store for a transaction.
	// Returns ErrStoreLocked if another holder exists.
	Lock(ctx context.Context) (release func(), err error)

	// Path returns the location of the backing storage, for diagnostics.
	Path() string
}

// AuditLog is a durable, append-only history of provisioning transactions.
type AuditLog interface {
	// Append writes one entry after all prior entries.
	Append(ctx context.Context, entry AuditEntry) error

	// ReadAll returns every entry in append order.
	ReadAll(ctx context.Context) ([]AuditEntry, error)

	// Path returns the location of the backing storage, for diagnostics.
	Path() string
}

// ContentID is a 32-byte SHA-256 hash uniquely identifying archived content.
type ContentID [32]byte

// ComputeID calculates content ID from data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// NewContentIDFromHex parses a 64 character hex string, optionally 0x prefixed.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id ContentID
	copy(id[:], hashBytes)
	return id, nil
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Equal compares two content IDs.
func (id ContentID) Equal(other ContentID) bool {
	return bytes.Equal(id[:], other[:])
}

// StorageBackendLocation is the URI of an archive backend, e.g. file:///var/backups/eloc
// or s3://bucket/prefix?region=eu-central-1.
type StorageBackendLocation string

// ArchiveBackend stores immutable, content-addressed copies of provisioning
// artifacts such as the audit log.
type ArchiveBackend interface {
	// Fetch retrieves archived data by content ID.
	Fetch(ctx context.Context, id ContentID) ([]byte, error)

	// Store saves data and returns its content ID.
	Store(ctx context.Context, data []byte) (ContentID, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for this backend.
	Name() string

	// LocationURI returns the URI that identifies this backend.
	LocationURI() string
}
