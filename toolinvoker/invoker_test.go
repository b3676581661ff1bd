package toolinvoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/trysoma/soma-sub005/credential"
	"github.com/trysoma/soma-sub005/cryptovault"
	svcerrors "github.com/trysoma/soma-sub005/infrastructure/errors"
)

type testVault struct {
	*cryptovault.CryptoCache
	repo         *cryptovault.MemoryRepository
	materializer *cryptovault.Materializer
	kek          cryptovault.KEK
}

func newTestInvoker(t *testing.T) (*ToolInvoker, *ToolRegistry, *credential.Registry, *testVault) {
	t.Helper()
	vaultRepo := cryptovault.NewMemoryRepository()
	materializer := cryptovault.NewMaterializer(nil)
	kek := cryptovault.KEK{Kind: cryptovault.KEKVariantLocal, FileName: filepath.Join(t.TempDir(), "kek.bin")}
	vaultRepo.PutKEK(kek)
	vault := &testVault{
		CryptoCache:  cryptovault.New(vaultRepo, materializer, nil, "test"),
		repo:         vaultRepo,
		materializer: materializer,
		kek:          kek,
	}

	creds := credential.New(credential.NewMemoryRepository(), vault.CryptoCache)
	creds.RegisterSource(credential.NoAuthSource{})
	creds.RegisterSource(credential.ApiKeySource{})

	registry := NewToolRegistry()
	invoker, err := New(registry, creds, vault.CryptoCache, nil, nil, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return invoker, registry, creds, vault
}

// mustCreateDEK creates a fresh DEK in vault's backing repository and
// returns its id, for tests that need to point a new alias at it.
func mustCreateDEK(t *testing.T, vault *testVault) string {
	t.Helper()
	dek, err := cryptovault.CreateDEK(context.Background(), vault.repo, vault.materializer, vault.kek)
	if err != nil {
		t.Fatalf("CreateDEK() error = %v", err)
	}
	return dek.ID
}

func TestInvokeInProcessSuccess(t *testing.T) {
	invoker, registry, creds, _ := newTestInvoker(t)
	ctx := context.Background()

	if _, err := creds.CreateTriple(ctx, "instance-1", credential.VariantNoAuth, map[string]interface{}{"region": "us"}, nil, nil, "", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	registry.Register(RegisteredTool{
		InstanceID: "instance-1",
		TypeID:     "echo",
		Kind:       KindInProcess,
		Handler: func(ctx context.Context, invocation Invocation) (json.RawMessage, error) {
			if invocation.StaticCredentials["region"] != "us" {
				t.Fatalf("unexpected static credentials: %+v", invocation.StaticCredentials)
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
	})

	result, err := invoker.Invoke(ctx, "instance-1", "echo", map[string]interface{}{"x": 1})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if string(result.Success) != `{"ok":true}` {
		t.Fatalf("Success = %s", result.Success)
	}
}

func TestInvokeInProcessHandlerErrorBecomesResultError(t *testing.T) {
	invoker, registry, creds, _ := newTestInvoker(t)
	ctx := context.Background()

	if _, err := creds.CreateTriple(ctx, "instance-2", credential.VariantNoAuth, nil, nil, nil, "", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}
	registry.Register(RegisteredTool{
		InstanceID: "instance-2",
		TypeID:     "fails",
		Kind:       KindInProcess,
		Handler: func(ctx context.Context, invocation Invocation) (json.RawMessage, error) {
			return nil, errors.New("boom")
		},
	})

	result, err := invoker.Invoke(ctx, "instance-2", "fails", nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.IsSuccess() {
		t.Fatal("expected Result.Error to be set")
	}
	if result.Error != "boom" {
		t.Fatalf("Error = %q, want boom", result.Error)
	}
}

func TestInvokeUnknownToolReturnsNotFound(t *testing.T) {
	invoker, _, _, _ := newTestInvoker(t)
	_, err := invoker.Invoke(context.Background(), "missing", "tool", nil)
	if err == nil {
		t.Fatal("expected error for unregistered tool")
	}
	if se := svcerrors.GetServiceError(err); se == nil || se.Kind != svcerrors.KindNotFound {
		t.Fatalf("expected not_found ServiceError, got %v", err)
	}
}

func TestInvokeHTTPToolForwardsCredentialsAndSuccess(t *testing.T) {
	invoker, registry, creds, _ := newTestInvoker(t)
	ctx := context.Background()

	if _, err := creds.CreateTriple(ctx, "instance-3", credential.VariantApiKey, nil,
		map[string]interface{}{"access_token": "resource-secret"}, nil, "resource-alias-http", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body Invocation
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body.ResourceServerCredential != "resource-secret" {
			t.Fatalf("ResourceServerCredential = %q, want resource-secret", body.ResourceServerCredential)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"done":true}`))
	}))
	defer server.Close()

	registry.Register(RegisteredTool{
		InstanceID:  "instance-3",
		TypeID:      "http-tool",
		Kind:        KindHTTP,
		EndpointURL: server.URL,
	})

	result, err := invoker.Invoke(ctx, "instance-3", "http-tool", map[string]interface{}{"q": "1"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("expected success, got error %q", result.Error)
	}
}

func TestInvokeHTTPToolCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	invoker, registry, creds, _ := newTestInvoker(t)
	ctx := context.Background()

	if _, err := creds.CreateTriple(ctx, "instance-breaker", credential.VariantNoAuth, nil, nil, nil, "", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}
	registry.Register(RegisteredTool{
		InstanceID:  "instance-breaker",
		TypeID:      "unreachable-tool",
		Kind:        KindHTTP,
		EndpointURL: "http://127.0.0.1:1/unreachable",
	})

	// DefaultConfig's MaxFailures is 5; each Invoke call is one breaker
	// attempt regardless of the single internal HTTP retry it performs.
	var lastErr string
	for n := 0; n < 5; n++ {
		result, err := invoker.Invoke(ctx, "instance-breaker", "unreachable-tool", nil)
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if result.IsSuccess() {
			t.Fatal("expected an unreachable endpoint to surface as Result.Error")
		}
		lastErr = result.Error
	}

	result, err := invoker.Invoke(ctx, "instance-breaker", "unreachable-tool", nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.IsSuccess() {
		t.Fatal("expected breaker-open call to surface as Result.Error")
	}
	if result.Error == lastErr {
		t.Fatalf("expected the breaker-open error to differ from the connection error, got %q both times", result.Error)
	}
}

func TestInvokeHTTPToolNon2xxBecomesResultError(t *testing.T) {
	invoker, registry, creds, _ := newTestInvoker(t)
	ctx := context.Background()

	if _, err := creds.CreateTriple(ctx, "instance-4", credential.VariantNoAuth, nil, nil, nil, "", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"nope"}`))
	}))
	defer server.Close()

	registry.Register(RegisteredTool{
		InstanceID:  "instance-4",
		TypeID:      "http-tool",
		Kind:        KindHTTP,
		EndpointURL: server.URL,
	})

	result, err := invoker.Invoke(ctx, "instance-4", "http-tool", nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.IsSuccess() {
		t.Fatal("expected a non-2xx response to surface as Result.Error")
	}
}

func TestInvokeHTTPToolSignsBodyWhenInvocationKeyPresent(t *testing.T) {
	invoker, registry, creds, vault := newTestInvoker(t)
	ctx := context.Background()

	if _, err := creds.CreateTriple(ctx, "instance-6", credential.VariantNoAuth, nil, nil, nil, "", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}

	if err := vault.CreateAlias(ctx, "invocation-key-alias", mustCreateDEK(t, vault)); err != nil {
		t.Fatalf("CreateAlias() error = %v", err)
	}
	encryptedKey, err := vault.EncryptionServiceFor("invocation-key-alias").EncryptData(ctx, []byte("super-secret-invocation-key"))
	if err != nil {
		t.Fatalf("EncryptData() error = %v", err)
	}

	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Soma-Signature")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	registry.Register(RegisteredTool{
		InstanceID:              "instance-6",
		TypeID:                  "signed-http-tool",
		Kind:                    KindHTTP,
		EndpointURL:             server.URL,
		InvocationKeyCiphertext: string(encryptedKey),
	})

	result, err := invoker.Invoke(ctx, "instance-6", "signed-http-tool", nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if gotSignature == "" {
		t.Fatal("expected X-Soma-Signature header to be set")
	}
}

type rejectingSchema struct{}

func (rejectingSchema) Validate(params map[string]interface{}) error {
	return errors.New("missing required field")
}

func TestInvokeParamsSchemaValidationFailureIsInvalidParams(t *testing.T) {
	invoker, registry, creds, _ := newTestInvoker(t)
	ctx := context.Background()

	if _, err := creds.CreateTriple(ctx, "instance-5", credential.VariantNoAuth, nil, nil, nil, "", ""); err != nil {
		t.Fatalf("CreateTriple() error = %v", err)
	}
	registry.Register(RegisteredTool{
		InstanceID:   "instance-5",
		TypeID:       "schema-tool",
		Kind:         KindInProcess,
		ParamsSchema: rejectingSchema{},
		Handler: func(ctx context.Context, invocation Invocation) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	})

	_, err := invoker.Invoke(ctx, "instance-5", "schema-tool", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if se := svcerrors.GetServiceError(err); se == nil || se.Kind != svcerrors.KindInvalidParams {
		t.Fatalf("expected invalid_params ServiceError, got %v", err)
	}
}
