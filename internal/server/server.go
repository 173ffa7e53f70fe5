// Package server is the ops HTTP surface: health/readiness probes and an
// admin-token-protected encryption key rotation endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/rakunlabs/ada"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/area-core/internal/cluster"
	"github.com/rakunlabs/area-core/internal/config"
	atcrypto "github.com/rakunlabs/area-core/internal/crypto"
	"github.com/rakunlabs/area-core/internal/store"
)

// Server exposes health checks plus admin operations over HTTP.
type Server struct {
	config  config.Server
	server  *ada.Server
	store   store.StorerClose
	cluster *cluster.Cluster
}

// New builds the ops HTTP surface. store and cl may be used concurrently
// with the rest of the runtime; rotate-key locks/broadcasts through cl when
// clustering is configured.
func New(cfg config.Server, serviceName string, st store.StorerClose, cl *cluster.Cluster) *Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(serviceName),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{config: cfg, server: mux, store: st, cluster: cl}

	baseGroup := mux.Group(cfg.BasePath)

	baseGroup.GET("/healthz", s.HealthzAPI)
	baseGroup.GET("/readyz", s.ReadyzAPI)

	if cfg.ForwardAuth != nil {
		slog.Info("forward auth enabled", "url", cfg.ForwardAuth.Address)
		baseGroup.Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.ForwardAuth)))
	}

	apiGroup := baseGroup.Group("/api/v1")

	settingsGroup := apiGroup.Group("/settings")
	settingsGroup.Use(s.adminAuthMiddleware())
	settingsGroup.POST("/rotate-key", s.RotateKeyAPI)

	return s
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}

// HealthzAPI reports the process is up; it never depends on the store.
func (s *Server) HealthzAPI(w http.ResponseWriter, r *http.Request) {
	httpResponse(w, "ok", http.StatusOK)
}

// ReadyzAPI reports whether the store is reachable.
func (s *Server) ReadyzAPI(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListAreas(r.Context()); err != nil {
		httpResponse(w, fmt.Sprintf("store not ready: %v", err), http.StatusServiceUnavailable)
		return
	}
	httpResponse(w, "ready", http.StatusOK)
}

type rotateKeyRequest struct {
	// EncryptionKey is the new encryption passphrase. Empty disables
	// encryption (stored tokens become plaintext).
	EncryptionKey string `json:"encryption_key"`
}

// RotateKeyAPI re-encrypts every stored UserService's tokens under a new
// key, acquiring a cluster-wide lock and broadcasting the new key to peers
// when clustering is configured.
func (s *Server) RotateKeyAPI(w http.ResponseWriter, r *http.Request) {
	var req rotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var newKey []byte
	if req.EncryptionKey != "" {
		var err error
		newKey, err = atcrypto.DeriveKey(req.EncryptionKey)
		if err != nil {
			httpResponse(w, fmt.Sprintf("invalid encryption key: %v", err), http.StatusBadRequest)
			return
		}
	}

	if s.cluster != nil {
		if err := s.cluster.Lock(r.Context()); err != nil {
			slog.Error("failed to acquire distributed lock for key rotation", "error", err)
			httpResponse(w, fmt.Sprintf("failed to acquire distributed lock: %v", err), http.StatusServiceUnavailable)
			return
		}
		defer func() {
			if err := s.cluster.Unlock(); err != nil {
				slog.Error("failed to release distributed lock", "error", err)
			}
		}()
	}

	if err := s.store.RotateEncryptionKey(r.Context(), newKey); err != nil {
		slog.Error("encryption key rotation failed", "error", err)
		httpResponse(w, fmt.Sprintf("key rotation failed: %v", err), http.StatusInternalServerError)
		return
	}

	if s.cluster != nil {
		if err := s.cluster.BroadcastNewKey(r.Context(), newKey); err != nil {
			slog.Error("key rotation succeeded but peer broadcast failed — other instances may need a restart", "error", err)
		}
	}

	httpResponse(w, "encryption key rotated successfully", http.StatusOK)
}

func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.config.AdminToken == "" {
				httpResponse(w, "admin token not configured", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if auth == "" || token == auth || token != s.config.AdminToken {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type responseMessage struct {
	Message string `json:"message"`
}

func httpResponse(w http.ResponseWriter, msg string, code int) {
	v, _ := json.Marshal(responseMessage{Message: msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(v) //nolint:errcheck
}
