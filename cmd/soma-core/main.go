// Command soma-core wires the six streaming task-and-event components
// together over in-memory stores and drives one end-to-end task: a
// message asking a registered tool to double a number, brokered through
// the credential registry and envelope-encrypted crypto cache, with an
// internal identity token issued alongside it.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trysoma/soma-sub005/credential"
	"github.com/trysoma/soma-sub005/cryptovault"
	"github.com/trysoma/soma-sub005/eventqueue"
	"github.com/trysoma/soma-sub005/identity"
	"github.com/trysoma/soma-sub005/infrastructure/metrics"
	"github.com/trysoma/soma-sub005/infrastructure/serviceauth"
	"github.com/trysoma/soma-sub005/orchestrator"
	"github.com/trysoma/soma-sub005/protocol"
	"github.com/trysoma/soma-sub005/toolinvoker"
)

const toolInstanceID = "demo-doubler"
const toolTypeID = "double"

// toolExecutor is the glue between TaskOrchestrator's Executor contract and
// ToolInvoker: it takes the last DataPart of the task's last message as the
// tool parameters (a default of {"value": 21} when there is none), invokes
// the configured tool, and reports the result as a
// finalized artifact before completing the task.
type toolExecutor struct {
	invoker *toolinvoker.ToolInvoker
}

func (e *toolExecutor) Execute(ctx context.Context, task *protocol.Task, queue *eventqueue.EventQueue) error {
	params := map[string]interface{}{"value": 21}
	if len(task.History) > 0 {
		last := task.History[len(task.History)-1]
		for _, part := range last.Parts {
			if part.Kind == protocol.PartKindData && part.Data != nil {
				params = part.Data
			}
		}
	}

	queue.Enqueue(protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    protocol.TaskStatus{State: protocol.TaskStateWorking, Timestamp: time.Now()},
	}))

	result, err := e.invoker.Invoke(ctx, toolInstanceID, toolTypeID, params)
	if err != nil {
		queue.Enqueue(protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{
			TaskID:    task.ID,
			ContextID: task.ContextID,
			Status:    protocol.TaskStatus{State: protocol.TaskStateFailed, Timestamp: time.Now()},
			Final:     true,
		}))
		return err
	}

	resultData := map[string]interface{}{}
	if result.IsSuccess() {
		_ = json.Unmarshal(result.Success, &resultData)
	} else {
		resultData["error"] = result.Error
	}

	queue.Enqueue(protocol.NewArtifactUpdateEvent(protocol.TaskArtifactUpdateEvent{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Artifact: protocol.Artifact{
			ArtifactID: uuid.NewString(),
			Parts:      []protocol.Part{protocol.NewDataPart(resultData)},
		},
		LastChunk: true,
	}))

	queue.Enqueue(protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    protocol.TaskStatus{State: protocol.TaskStateCompleted, Timestamp: time.Now()},
		Final:     true,
	}))
	return nil
}

func (e *toolExecutor) Cancel(ctx context.Context, task *protocol.Task, queue *eventqueue.EventQueue) {
	queue.Enqueue(protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    protocol.TaskStatus{State: protocol.TaskStateCanceled, Timestamp: time.Now()},
		Final:     true,
	}))
}

func mustGenerateSigningKey(ctx context.Context, vault *cryptovault.CryptoCache, dekAlias string) (identity.JWKSigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return identity.JWKSigningKey{}, err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return identity.JWKSigningKey{}, err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	encrypted, err := vault.EncryptionServiceFor(dekAlias).EncryptData(ctx, privPEM)
	if err != nil {
		return identity.JWKSigningKey{}, err
	}

	return identity.JWKSigningKey{
		KID:                 uuid.NewString(),
		EncryptedPrivateKey: string(encrypted),
		PublicKeyPEM:        string(pubPEM),
		DEKAlias:            dekAlias,
		ExpiresAt:           time.Now().Add(24 * time.Hour),
	}, nil
}

func run() error {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	ctx := context.Background()

	workDir, err := os.MkdirTemp("", "soma-core-demo")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	// --- CryptoCache (§4.5) ---
	vaultRepo := cryptovault.NewMemoryRepository()
	materializer := cryptovault.NewMaterializer(nil)
	kek := cryptovault.KEK{Kind: cryptovault.KEKVariantLocal, FileName: filepath.Join(workDir, "kek.bin")}
	vaultRepo.PutKEK(kek)
	m := metrics.Init("soma-core")
	vault := cryptovault.New(vaultRepo, materializer, m, "soma-core")

	resourceDEK, err := cryptovault.CreateDEK(ctx, vaultRepo, materializer, kek)
	if err != nil {
		return err
	}
	if err := vault.CreateAlias(ctx, "demo-tool-resource-credential", resourceDEK.ID); err != nil {
		return err
	}

	signingDEK, err := cryptovault.CreateDEK(ctx, vaultRepo, materializer, kek)
	if err != nil {
		return err
	}

	// --- CredentialRegistry (§4.4) ---
	credRegistry := credential.New(credential.NewMemoryRepository(), vault)
	credRegistry.RegisterSource(credential.ApiKeySource{})
	credRegistry.RegisterSource(credential.NoAuthSource{})

	if _, err := credRegistry.CreateTriple(ctx, toolInstanceID, credential.VariantApiKey,
		map[string]interface{}{"endpoint": "in-process"},
		map[string]interface{}{"access_token": "demo-upstream-key"}, nil,
		"demo-tool-resource-credential", ""); err != nil {
		return err
	}

	// --- ToolInvoker (§4.3) ---
	toolRegistry := toolinvoker.NewToolRegistry()
	toolRegistry.Register(toolinvoker.RegisteredTool{
		InstanceID: toolInstanceID,
		TypeID:     toolTypeID,
		Kind:       toolinvoker.KindInProcess,
		Handler: func(ctx context.Context, invocation toolinvoker.Invocation) (json.RawMessage, error) {
			value, _ := invocation.Params["value"].(float64)
			if value == 0 {
				if iv, ok := invocation.Params["value"].(int); ok {
					value = float64(iv)
				}
			}
			out, _ := json.Marshal(map[string]interface{}{
				"doubled":                   value * 2,
				"authenticated_as_resource": invocation.ResourceServerCredential != "",
			})
			return out, nil
		},
	})
	invoker, err := toolinvoker.New(toolRegistry, credRegistry, vault, nil, m, "soma-core")
	if err != nil {
		return err
	}

	// --- TaskOrchestrator (§4.1) + EventQueue/EventConsumer (§4.2) ---
	store := orchestrator.NewMemoryTaskStore()
	taskOrchestrator := orchestrator.New(store, &toolExecutor{invoker: invoker}, m, "soma-core")

	sendResult, err := taskOrchestrator.OnMessageSend(ctx, protocol.MessageSendParams{
		Message: protocol.Message{
			MessageID: uuid.NewString(),
			Role:      protocol.RoleUser,
			Parts:     []protocol.Part{protocol.NewDataPart(map[string]interface{}{"value": 21})},
		},
	})
	if err != nil {
		return err
	}
	if sendResult.Task != nil {
		log.WithField("task_state", sendResult.Task.Status.State).Info("task run completed")
		for _, artifact := range sendResult.Task.Artifacts {
			log.WithField("artifact", artifact).Info("tool result artifact")
		}
	}

	// --- TokenExchange & IdentityValidator (§4.6) ---
	idRepo := identity.NewMemoryRepository()
	signingKey, err := mustGenerateSigningKey(ctx, vault, signingDEK.ID)
	if err != nil {
		return err
	}
	if err := idRepo.PutSigningKey(ctx, signingKey); err != nil {
		return err
	}
	exchange := identity.NewTokenExchange(idRepo, vault)

	tokens, err := exchange.Issue(ctx, identity.Human{
		Subject: "demo-user",
		Email:   "demo-user@example.com",
		Groups:  []string{"eng-team"},
		Role:    identity.RoleUser,
	})
	if err != nil {
		return err
	}
	claims, err := exchange.ValidateAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		return err
	}
	log.WithField("subject", claims.Subject).WithField("role", claims.Role).Info("issued and validated internal access token")

	// serviceauth's RS256 key parsing is reused directly by identity's
	// token exchange; touch it here so the wiring is visible end-to-end.
	_, err = serviceauth.ParseRSAPublicKeyFromPEM([]byte(signingKey.PublicKeyPEM))
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "soma-core demo failed:", err)
		os.Exit(1)
	}
}
