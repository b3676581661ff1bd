package toolinvoker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/trysoma/soma-sub005/credential"
	"github.com/trysoma/soma-sub005/cryptovault"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/httputil"
	"github.com/trysoma/soma-sub005/infrastructure/metrics"
	"github.com/trysoma/soma-sub005/infrastructure/resilience"
)

// invocationSignatureInfo separates the HKDF output used to sign HTTP tool
// invocation bodies from any other derivation of the same invocation key.
var invocationSignatureInfo = []byte("soma-sub005 tool invocation signature v1")

// signInvocationBody derives a signing key from invocationKey via
// HKDF-SHA256 (no salt, fixed info, so the same key for every call with a
// given invocationKey) and returns the hex-encoded HMAC-SHA256 of body, so a tool
// endpoint can verify the request came from this invoker without the raw
// invocation key ever leaving the Authorization header.
func signInvocationBody(invocationKey string, body []byte) (string, error) {
	reader := hkdf.New(sha256.New, []byte(invocationKey), nil, invocationSignatureInfo)
	signingKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(reader, signingKey); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, signingKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ToolInvoker resolves a tool deployment's credentials and dispatches a
// call, whether the tool is HTTP-backed or in-process.
type ToolInvoker struct {
	registry    *ToolRegistry
	credentials *credential.Registry
	vault       *cryptovault.CryptoCache
	httpClient  *http.Client
	metrics     *metrics.Metrics
	service     string

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

// New builds a ToolInvoker. httpClient may be nil, in which case a default
// client is created via infrastructure/httputil.
func New(registry *ToolRegistry, credentials *credential.Registry, vault *cryptovault.CryptoCache, httpClient *http.Client, m *metrics.Metrics, serviceName string) (*ToolInvoker, error) {
	if httpClient == nil {
		client, err := httputil.NewClient(httputil.ClientConfig{}, httputil.DefaultClientDefaults())
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, "build default tool invoker http client", err)
		}
		httpClient = client
	}
	return &ToolInvoker{
		registry:    registry,
		credentials: credentials,
		vault:       vault,
		httpClient:  httpClient,
		metrics:     m,
		service:     serviceName,
		breakers:    make(map[string]*resilience.CircuitBreaker),
	}, nil
}

// breakerFor returns the circuit breaker guarding HTTP calls to a given
// tool deployment, creating it on first use. Each (instanceID, typeID)
// pair gets its own breaker so one failing tool deployment can't trip
// calls to an unrelated one.
func (i *ToolInvoker) breakerFor(instanceID, typeID string) *resilience.CircuitBreaker {
	key := instanceID + "/" + typeID
	i.breakersMu.Lock()
	defer i.breakersMu.Unlock()
	cb, ok := i.breakers[key]
	if !ok {
		cb = resilience.New(resilience.DefaultConfig())
		i.breakers[key] = cb
	}
	return cb
}

func (i *ToolInvoker) recordInvocation(typeID, status string, duration time.Duration) {
	if i.metrics != nil {
		i.metrics.RecordToolInvocation(i.service, typeID, status, duration)
	}
}

func (i *ToolInvoker) recordRetry(typeID string) {
	if i.metrics != nil {
		i.metrics.RecordToolInvocationRetry(i.service, typeID)
	}
}

// Invoke locates instanceID's registration for typeID, resolves the
// credentials its variant requires, validates params against the tool's
// schema (if any), and dispatches the call.
func (i *ToolInvoker) Invoke(ctx context.Context, instanceID, typeID string, params map[string]interface{}) (Result, error) {
	tool, err := i.registry.lookup(ctx, instanceID, typeID)
	if err != nil {
		return Result{}, err
	}

	if tool.ParamsSchema != nil {
		if err := tool.ParamsSchema.Validate(params); err != nil {
			return Result{}, errors.InvalidParams(err.Error())
		}
	}

	resolved, err := i.credentials.Resolve(ctx, instanceID)
	if err != nil {
		return Result{}, err
	}

	invocation := Invocation{
		Params:                   params,
		StaticCredentials:        resolved.StaticConfig,
		ResourceServerCredential: resolved.ResourceServerAccessToken,
		UserCredential:           resolved.UserAccessToken,
	}

	start := time.Now()
	var result Result
	switch tool.Kind {
	case KindInProcess:
		result, err = i.invokeInProcess(ctx, tool, invocation)
	case KindHTTP:
		result, err = i.invokeHTTP(ctx, instanceID, tool, invocation)
	default:
		return Result{}, errors.Internal("unknown tool kind: "+string(tool.Kind), nil)
	}
	duration := time.Since(start)

	if err != nil {
		i.recordInvocation(typeID, "error", duration)
		if i.metrics != nil {
			i.metrics.RecordError(i.service, string(errors.KindInternal), "tool_invoke")
		}
		return Result{}, err
	}
	if result.IsSuccess() {
		i.recordInvocation(typeID, "success", duration)
	} else {
		i.recordInvocation(typeID, "tool_error", duration)
	}
	return result, nil
}

func (i *ToolInvoker) invokeInProcess(ctx context.Context, tool RegisteredTool, invocation Invocation) (Result, error) {
	if tool.Handler == nil {
		return Result{}, errors.Internal("in-process tool has no handler registered: "+tool.InstanceID, nil)
	}
	body, err := tool.Handler(ctx, invocation)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	return Result{Success: body}, nil
}

func (i *ToolInvoker) invokeHTTP(ctx context.Context, instanceID string, tool RegisteredTool, invocation Invocation) (Result, error) {
	invocationKey := ""
	if tool.InvocationKeyCiphertext != "" {
		plaintext, err := i.vault.DecryptionService().DecryptData(ctx, cryptovault.EncryptedString(tool.InvocationKeyCiphertext))
		if err != nil {
			return Result{}, errors.Wrap(errors.KindInternal, "decrypt tool invocation key", err)
		}
		invocationKey = string(plaintext)
	}

	body, err := json.Marshal(invocation)
	if err != nil {
		return Result{}, errors.Wrap(errors.KindInternal, "marshal tool invocation body", err)
	}

	breaker := i.breakerFor(instanceID, tool.TypeID)

	var result Result
	attempt := 0
	breakerErr := breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, resilience.SingleRetryConfig(), func() error {
			if attempt > 0 {
				i.recordRetry(tool.TypeID)
			}
			attempt++
			res, err := i.doHTTPCall(ctx, tool.EndpointURL, invocationKey, body)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if breakerErr != nil {
		// A breaker short-circuit or a network/IO failure persisting past
		// the single retry becomes an InvokeResult::Error rather than a
		// transport-level failure.
		return Result{Error: breakerErr.Error()}, nil
	}
	return result, nil
}

func (i *ToolInvoker) doHTTPCall(ctx context.Context, endpoint, invocationKey string, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Wrap(errors.KindInternal, "build tool invocation request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if invocationKey != "" {
		req.Header.Set("Authorization", "Bearer "+invocationKey)
		signature, err := signInvocationBody(invocationKey, body)
		if err != nil {
			return Result{}, errors.Wrap(errors.KindInternal, "sign tool invocation body", err)
		}
		req.Header.Set("X-Soma-Signature", signature)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadAllStrict(resp.Body, httputil.ResolveMaxBodyBytes(0, httputil.DefaultClientDefaults().MaxBodyBytes))
	if err != nil {
		return Result{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Error: fmt.Sprintf("tool returned status %d: %s", resp.StatusCode, string(respBody))}, nil
	}
	return Result{Success: json.RawMessage(respBody)}, nil
}
