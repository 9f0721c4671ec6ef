package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sovereign-voice/commandplane/internal/audit"
	"github.com/sovereign-voice/commandplane/internal/circuitbreaker"
	"github.com/sovereign-voice/commandplane/internal/config"
	"github.com/sovereign-voice/commandplane/internal/conversation"
	"github.com/sovereign-voice/commandplane/internal/crypto"
	"github.com/sovereign-voice/commandplane/internal/dispatch"
	"github.com/sovereign-voice/commandplane/internal/gateway"
	"github.com/sovereign-voice/commandplane/internal/identity"
	"github.com/sovereign-voice/commandplane/internal/metrics"
	"github.com/sovereign-voice/commandplane/internal/mio"
	"github.com/sovereign-voice/commandplane/internal/pipeline"
	"github.com/sovereign-voice/commandplane/internal/presence"
	"github.com/sovereign-voice/commandplane/internal/prompting"
	"github.com/sovereign-voice/commandplane/internal/ratelimit"
	"github.com/sovereign-voice/commandplane/internal/replay"
	"github.com/sovereign-voice/commandplane/internal/session"
	"github.com/sovereign-voice/commandplane/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, continuing with process environment")
	}

	cfg := config.Get()
	port := cfg.GetPort()

	if cfg.Auth.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required and must not be empty (fail-closed)")
	}

	ctx := context.Background()

	store, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	slog.Info("storage ready", "schema", "ensured")

	sessions := session.NewManager(24*time.Hour, 10*time.Minute)
	presenceEngine := presence.NewEngine(sessions, time.Duration(cfg.Presence.HeartbeatTimeoutSec)*time.Second)
	conversations := conversation.NewRegistry()
	slog.Info("session/presence/conversation layer initialized",
		"heartbeat_timeout_sec", cfg.Presence.HeartbeatTimeoutSec)

	ssoValidator := identity.NewSSOValidator(cfg.Auth.SSOValidationMode, cfg.Auth.SSOHSSecret, cfg.Auth.JWKSURL, cfg.Server.Env)
	legacyIssuer := identity.NewLegacyIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm, time.Duration(cfg.Auth.JWTExpirySeconds)*time.Second)
	slog.Info("identity validators initialized", "sso_mode", cfg.Auth.SSOValidationMode)

	var llmProvider prompting.LLMProvider
	if cfg.Mock.LLM || cfg.LLM.APIKey == "" {
		llmProvider = &prompting.MockProvider{}
		slog.Warn("prompting: running with mock LLM provider", "mock", cfg.Mock.LLM, "has_api_key", cfg.LLM.APIKey != "")
	} else {
		llmProvider = &prompting.MockProvider{}
		slog.Warn("prompting: live LLM backend not wired in this build, falling back to mock provider")
	}
	auditLog := audit.New(store, cfg.Server.Env, slog.Default())

	promptGateway := prompting.NewGateway(llmProvider, func(callSiteID string, err error) {
		auditLog.Log(context.Background(), audit.EventPromptBypassAttempt, "", "", map[string]interface{}{
			"call_site": callSiteID,
			"error":     err.Error(),
		})
	})

	fragmentAnalyzer := pipeline.NewFragmentAnalyzer(promptGateway)
	hypothesizer := pipeline.NewHypothesizer(promptGateway)
	l2Verifier := pipeline.NewVerifier(promptGateway)
	qcSentry := pipeline.NewQCSentry(promptGateway)
	dimensionExtractor := pipeline.NewDimensionExtractor(promptGateway)
	dimensionRegistry := pipeline.NewDimensionRegistry()
	skillCatalog := pipeline.NewSkillCatalog(defaultSkills())
	slog.Info("pipeline stages initialized", "skills", len(defaultSkills()))

	signer := crypto.Default()
	replayStore := replay.New()
	touchValidator := gateway.NewTouchValidator(replayStore)
	mioVerifier := mio.NewVerifier(signer, replayStore, presenceEngine, touchValidator)
	slog.Info("mio verifier initialized", "public_key", fmt.Sprintf("%x", signer.PublicKeyBytes()))

	dispatcher := dispatch.New(mioVerifier, store, store, auditLog, buildEnvGuard(cfg), cfg.Server.Env, cfg.Dispatch.Token)

	rateLimiter := ratelimit.New()
	breakers := circuitbreaker.NewPipelineCircuitBreakers()
	metricsReg := metrics.New()

	allowedOrigins := cfg.Server.AllowedOrigins

	gw := gateway.New(gateway.Deps{
		Sessions:      sessions,
		Presence:      presenceEngine,
		Conversations: conversations,

		SSOValidator: ssoValidator,
		LegacyIssuer: legacyIssuer,
		ServerEnv:    cfg.Server.Env,

		FragmentAnalyzer:   fragmentAnalyzer,
		Hypothesizer:       hypothesizer,
		L2Verifier:         l2Verifier,
		QCSentry:           qcSentry,
		DimensionExtractor: dimensionExtractor,
		Dimensions:         dimensionRegistry,
		Skills:             skillCatalog,

		Signer:      signer,
		MIOVerifier: mioVerifier,
		Dispatcher:  dispatcher,
		Commits:     store,
		Store:       store,

		RateLimiter: rateLimiter,
		Breakers:    breakers,
		Audit:       auditLog,
		Metrics:     metricsReg,

		AllowedOrigins: allowedOrigins,

		Logger: slog.Default(),
	})

	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		dbStatus := "connected"
		pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			dbStatus = "error"
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"storage": dbStatus,
			"env":     cfg.Server.Env,
		})
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/v1/tenants/{tenantID}", func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["tenantID"]
		switch r.Method {
		case http.MethodGet:
			t, err := store.GetTenant(r.Context(), tenantID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(t)
		case http.MethodPut:
			var t dispatch.Tenant
			if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			t.TenantID = tenantID
			if err := store.UpsertTenant(r.Context(), t); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}).Methods(http.MethodGet, http.MethodPut)

	router.HandleFunc("/ws", gw.HandleWebSocket)

	server := &http.Server{
		Addr:         cfg.Server.Interface + ":" + port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		store.Close()
	}()

	slog.Info("command plane gateway starting", "port", port, "env", cfg.Server.Env)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed to start: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// buildEnvGuard enforces the same dispatch-environment separation the
// original envguard/env_separation.py asserted before letting a dispatch
// reach a tenant adapter: production dispatch is refused outright unless
// an adapter token has been configured, and an unrecognized env string
// never passes.
func buildEnvGuard(cfg *config.Config) dispatch.EnvGuard {
	return func(env string) error {
		switch env {
		case "dev", "staging":
			return nil
		case "prod":
			if cfg.Dispatch.Token == "" {
				return fmt.Errorf("production dispatch requires DISPATCH_TOKEN to be configured")
			}
			return nil
		default:
			return fmt.Errorf("unrecognized environment %q", env)
		}
	}
}

// defaultSkills seeds the skill catalog used to build mandate topologies.
// Grounded on original_source's skills/catalog.yaml entries, generalized
// to the action classes this repository's mandate pipeline produces.
func defaultSkills() []pipeline.Skill {
	return []pipeline.Skill{
		{
			Name:        "send_message",
			Category:    "communication",
			ActionClass: mio.ActionCommSend,
			Triggers:    []string{"send", "message", "text", "email", "tell"},
			Manifest:    pipeline.ToolManifest{Profile: "comm", Allow: []string{"messaging.send"}},
		},
		{
			Name:        "reschedule_event",
			Category:    "scheduling",
			ActionClass: mio.ActionSchedModify,
			Triggers:    []string{"schedule", "reschedule", "calendar", "meeting", "move"},
			Manifest:    pipeline.ToolManifest{Profile: "calendar", Allow: []string{"calendar.write"}},
		},
		{
			Name:        "lookup_information",
			Category:    "retrieval",
			ActionClass: mio.ActionInfoRetrieve,
			Triggers:    []string{"what", "when", "where", "find", "lookup"},
			Manifest:    pipeline.ToolManifest{Profile: "readonly", Allow: []string{"search.query"}},
		},
		{
			Name:        "edit_document",
			Category:    "documents",
			ActionClass: mio.ActionDocEdit,
			Triggers:    []string{"edit", "draft", "write", "document", "note"},
			Manifest:    pipeline.ToolManifest{Profile: "docs", Allow: []string{"docs.write"}},
		},
		{
			Name:        "move_funds",
			Category:    "finance",
			ActionClass: mio.ActionFinTrans,
			Triggers:    []string{"pay", "transfer", "send money", "invoice"},
			Manifest:    pipeline.ToolManifest{Profile: "finance", Allow: []string{"payments.execute"}},
		},
		{
			Name:        "change_setting",
			Category:    "system",
			ActionClass: mio.ActionSysConfig,
			Triggers:    []string{"enable", "disable", "turn on", "turn off", "set"},
			Manifest:    pipeline.ToolManifest{Profile: "system", Allow: []string{"system.configure"}},
		},
	}
}
