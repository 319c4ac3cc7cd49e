package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV serves the subset of the Vault HTTP API used by VaultBackend.
type fakeKV struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	sealed  bool
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v1/sys/health" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"initialized": true, "sealed": f.sealed})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.secrets[path] = body
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		body, ok := f.secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"data": body})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestVault(t *testing.T) (*fakeKV, *VaultBackend) {
	t.Helper()
	kv := &fakeKV{secrets: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)

	config := api.DefaultConfig()
	config.Address = srv.URL
	config.MaxRetries = 0
	client, err := api.NewClient(config)
	require.NoError(t, err)
	client.SetToken("test-token")

	return kv, NewVaultBackendWithClient(client, "/secret/", "eloc/audit/", testLogger())
}

func TestVaultBackend_StoreFetch(t *testing.T) {
	kv, backend := newTestVault(t)
	ctx := context.Background()

	data := []byte("timestamp,serial\r\n2024-06-01 08:00:00,00042\r\n")
	id, err := backend.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)
	kv.mu.Lock()
	assert.Contains(t, kv.secrets, "secret/data/eloc/audit/"+id.String())
	kv.mu.Unlock()

	fetched, err := backend.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)
}

func TestVaultBackend_FetchMissing(t *testing.T) {
	_, backend := newTestVault(t)

	_, err := backend.Fetch(context.Background(), interfaces.ComputeID([]byte("absent")))
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestVaultBackend_FetchRejectsTamperedContent(t *testing.T) {
	kv, backend := newTestVault(t)
	ctx := context.Background()

	id, err := backend.Store(ctx, []byte("original"))
	require.NoError(t, err)

	other, err := backend.Store(ctx, []byte("tampered"))
	require.NoError(t, err)
	kv.mu.Lock()
	kv.secrets["secret/data/eloc/audit/"+id.String()] = kv.secrets["secret/data/eloc/audit/"+other.String()]
	kv.mu.Unlock()

	_, err = backend.Fetch(ctx, id)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestVaultBackend_Available(t *testing.T) {
	kv, backend := newTestVault(t)
	assert.True(t, backend.Available(context.Background()))

	kv.mu.Lock()
	kv.sealed = true
	kv.mu.Unlock()
	assert.False(t, backend.Available(context.Background()))
}
