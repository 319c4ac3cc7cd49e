package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/eloc-provisioning/cryptoutils"
	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/ruteri/eloc-provisioning/provisioning"
)

// RecordStatus is the public view of the factory configuration record. Join keys
// are never exposed, only whether the record holds them.
type RecordStatus struct {
	Path   string          `json:"path"`
	Serial string          `json:"serial"`
	HWGen  string          `json:"hw_gen"`
	HWRev  string          `json:"hw_rev"`
	Keys   map[string]bool `json:"keys"`
}

// AuditView is an audit entry with keys replaced by fingerprints.
type AuditView struct {
	Serial    string    `json:"serial"`
	DevEUI    string    `json:"devEUI"`
	AppKeyFP  string    `json:"appKey_fp,omitempty"`
	NwkKeyFP  string    `json:"nwkKey_fp,omitempty"`
	HWGen     string    `json:"hw_gen"`
	HWRev     string    `json:"hw_rev"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves read-only provisioning status from the record store and audit log.
type Handler struct {
	store  interfaces.RecordStore
	audit  interfaces.AuditLog
	fields provisioning.FieldNames
	log    *slog.Logger
}

// NewHandler creates a status handler.
func NewHandler(store interfaces.RecordStore, audit interfaces.AuditLog, fields provisioning.FieldNames, log *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		audit:  audit,
		fields: fields,
		log:    log,
	}
}

// HandleRecord returns the current serial and hardware identity.
//
// URL format: GET /api/v1/record
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.LoadAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := RecordStatus{Path: h.store.Path(), Keys: make(map[string]bool)}
	status.Serial, _ = record.Value(h.fields.Serial)
	status.HWGen, _ = record.Value(h.fields.HWGen)
	status.HWRev, _ = record.Value(h.fields.HWRev)
	for _, k := range []string{interfaces.DevEUIKey, interfaces.AppKeyKey, interfaces.NwkKeyKey} {
		status.Keys[k] = record.Has(k)
	}

	writeJSON(w, status)
}

// HandleAuditList returns the audit trail in append order. The optional limit query
// parameter keeps only the most recent entries.
//
// URL format: GET /api/v1/audit?limit=N
func (h *Handler) HandleAuditList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.audit.ReadAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	views := make([]AuditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newAuditView(e))
	}
	writeJSON(w, views)
}

// HandleAuditEntry returns the latest audit entry for a serial.
//
// URL format: GET /api/v1/audit/{serial}
func (h *Handler) HandleAuditEntry(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	entries, err := h.audit.ReadAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	// A serial can appear twice after a manual reconciliation, latest wins
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Serial == serial {
			writeJSON(w, newAuditView(entries[i]))
			return
		}
	}
	http.Error(w, "serial not found", http.StatusNotFound)
}

func newAuditView(e interfaces.AuditEntry) AuditView {
	v := AuditView{
		Serial:    e.Serial,
		DevEUI:    e.DevEUI,
		HWGen:     e.HWGen,
		HWRev:     e.HWRev,
		Timestamp: e.Timestamp,
	}
	if e.AppKey != "" {
		v.AppKeyFP = cryptoutils.Fingerprint(e.AppKey)
	}
	if e.NwkKey != "" {
		v.NwkKeyFP = cryptoutils.Fingerprint(e.NwkKey)
	}
	return v
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrStoreNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrMalformedRecord), errors.Is(err, interfaces.ErrMalformedAudit):
		h.log.Error("Provisioning data is malformed", "err", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.log.Error("Failed to read provisioning data", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
