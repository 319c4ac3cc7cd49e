package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ruteri/eloc-provisioning/cryptoutils"
	"github.com/ruteri/eloc-provisioning/interfaces"
)

// KeyPolicy decides which join key fields a transaction regenerates.
type KeyPolicy string

const (
	// KeyPolicyAlways regenerates devEUI, appKey and nwkKey on every transaction and
	// appends the fields when the record lacks them.
	KeyPolicyAlways KeyPolicy = "always"

	// KeyPolicyIfPresent only regenerates key fields the record already has.
	KeyPolicyIfPresent KeyPolicy = "if-present"
)

// ParseKeyPolicy validates a policy name. An empty name selects KeyPolicyAlways.
func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch KeyPolicy(s) {
	case "", KeyPolicyAlways:
		return KeyPolicyAlways, nil
	case KeyPolicyIfPresent:
		return KeyPolicyIfPresent, nil
	default:
		return "", fmt.Errorf("unknown key policy %q, expected %q or %q", s, KeyPolicyAlways, KeyPolicyIfPresent)
	}
}

// FieldNames are the record keys holding the serial and hardware identity.
type FieldNames struct {
	Serial string `yaml:"serial"`
	HWGen  string `yaml:"hw_gen"`
	HWRev  string `yaml:"hw_rev"`
}

// DefaultFieldNames are the keys read by the ELOC firmware.
func DefaultFieldNames() FieldNames {
	return FieldNames{
		Serial: interfaces.SerialKey,
		HWGen:  interfaces.HWGenKey,
		HWRev:  interfaces.HWRevKey,
	}
}

// LegacyFieldNames are the keys used by early factory records.
func LegacyFieldNames() FieldNames {
	return FieldNames{
		Serial: interfaces.SerialKey,
		HWGen:  "hardware_version",
		HWRev:  "revision",
	}
}

// Config controls how a Service mutates records. Zero values select defaults.
type Config struct {
	KeyPolicy  KeyPolicy
	FieldNames FieldNames

	// NewKeyEncoding is the encoding of key fields appended to a record.
	// Defaults to "string".
	NewKeyEncoding string

	// Rand is the randomness source for join keys. Defaults to crypto/rand.
	Rand io.Reader
}

// Service runs provisioning transactions against one record store and audit log.
type Service struct {
	store interfaces.RecordStore
	audit interfaces.AuditLog
	cfg   Config
	log   *slog.Logger
}

// NewService creates a provisioning service, filling unset configuration with defaults.
func NewService(store interfaces.RecordStore, audit interfaces.AuditLog, cfg Config, log *slog.Logger) (*Service, error) {
	policy, err := ParseKeyPolicy(string(cfg.KeyPolicy))
	if err != nil {
		return nil, err
	}
	cfg.KeyPolicy = policy

	defaults := DefaultFieldNames()
	if cfg.FieldNames.Serial == "" {
		cfg.FieldNames.Serial = defaults.Serial
	}
	if cfg.FieldNames.HWGen == "" {
		cfg.FieldNames.HWGen = defaults.HWGen
	}
	if cfg.FieldNames.HWRev == "" {
		cfg.FieldNames.HWRev = defaults.HWRev
	}
	if cfg.NewKeyEncoding == "" {
		cfg.NewKeyEncoding = interfaces.DefaultFieldEncoding
	}

	return &Service{
		store: store,
		audit: audit,
		cfg:   cfg,
		log:   log,
	}, nil
}

// ProvisionOnce runs one provisioning transaction: increment the serial, draw fresh
// join keys, replace the record and append an audit entry stamped with now.
//
// The store lock is held for the whole transaction. Any failure before the record
// is saved leaves both the record and the audit log untouched. If the audit append
// fails after the record was saved, an *AuditAppendFailedAfterCommitError is
// returned together with the entry that is missing from the audit trail.
func (s *Service) ProvisionOnce(ctx context.Context, now time.Time) (*interfaces.AuditEntry, error) {
	release, err := s.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := s.apply(record, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.store.Path(), err)
	}

	// Durability point of the record
	if err := s.store.SaveAll(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to commit record, no audit entry written: %w", err)
	}

	if err := s.audit.Append(ctx, *entry); err != nil {
		s.log.Error("Record committed but audit append failed, manual audit reconciliation required",
			slog.String("record", s.store.Path()),
			slog.String("audit", s.audit.Path()),
			slog.String("serial", entry.Serial),
			"err", err)
		return entry, &interfaces.AuditAppendFailedAfterCommitError{
			Entry:     *entry,
			AuditPath: s.audit.Path(),
			Err:       err,
		}
	}

	s.log.Info("Provisioned record",
		slog.String("record", s.store.Path()),
		slog.String("serial", entry.Serial),
		slog.String("devEUI", entry.DevEUI),
		slog.String("appKey_fp", fingerprint(entry.AppKey)),
		slog.String("nwkKey_fp", fingerprint(entry.NwkKey)),
		slog.String("hw_gen", entry.HWGen),
		slog.String("hw_rev", entry.HWRev))

	return entry, nil
}

// apply mutates the in-memory record and returns the audit entry describing it.
func (s *Service) apply(record *interfaces.Record, now time.Time) (*interfaces.AuditEntry, error) {
	names := s.cfg.FieldNames

	serialField, err := record.GetField(names.Serial)
	if errors.Is(err, interfaces.ErrFieldNotFound) || (err == nil && serialField.Value == "") {
		return nil, fmt.Errorf("%w: field %q", interfaces.ErrMissingSerial, names.Serial)
	} else if err != nil {
		return nil, err
	}

	newSerial, err := IncrementDecimal(serialField.Value)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", names.Serial, err)
	}
	if err := CheckEncodingFits(newSerial, serialField.Encoding); err != nil {
		return nil, fmt.Errorf("field %q: %w", names.Serial, err)
	}

	hwGen, _ := record.Value(names.HWGen)
	hwRev, _ := record.Value(names.HWRev)

	keys, err := cryptoutils.GenerateJoinKeys(s.cfg.Rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate join keys: %w", err)
	}

	entry := &interfaces.AuditEntry{
		Serial:    newSerial,
		HWGen:     hwGen,
		HWRev:     hwRev,
		Timestamp: now.Truncate(time.Second),
	}

	record.SetField(names.Serial, newSerial)
	for _, k := range []struct {
		key   string
		value string
		dst   *string
	}{
		{interfaces.DevEUIKey, keys.DevEUI, &entry.DevEUI},
		{interfaces.AppKeyKey, keys.AppKey, &entry.AppKey},
		{interfaces.NwkKeyKey, keys.NwkKey, &entry.NwkKey},
	} {
		if s.cfg.KeyPolicy == KeyPolicyIfPresent && !record.Has(k.key) {
			s.log.Debug("Skipping absent key field", slog.String("key", k.key))
			continue
		}
		record.SetFieldWithEncoding(k.key, s.cfg.NewKeyEncoding, k.value)
		*k.dst = k.value
	}

	return entry, nil
}

func fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return cryptoutils.Fingerprint(secret)
}
