package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/area-core/internal/cluster"
	_ "github.com/rakunlabs/area-core/internal/components"
	"github.com/rakunlabs/area-core/internal/components/google"
	"github.com/rakunlabs/area-core/internal/components/microsoft"
	"github.com/rakunlabs/area-core/internal/components/spotify"
	"github.com/rakunlabs/area-core/internal/config"
	"github.com/rakunlabs/area-core/internal/credential"
	atcrypto "github.com/rakunlabs/area-core/internal/crypto"
	"github.com/rakunlabs/area-core/internal/queue"
	"github.com/rakunlabs/area-core/internal/server"
	"github.com/rakunlabs/area-core/internal/store"
	"github.com/rakunlabs/area-core/internal/supervisor"
	"github.com/rakunlabs/area-core/internal/worker"
)

var (
	name    = "area-core"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

// run composes the Supervisor, Worker pool and ops HTTP surface and runs
// them concurrently until ctx is canceled. Any one of them returning an
// error stops the whole process — there is no partial-degradation mode.
func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var encKey []byte
	if cfg.Store.EncryptionKey != "" {
		encKey, err = atcrypto.DeriveKey(cfg.Store.EncryptionKey)
		if err != nil {
			return fmt.Errorf("derive encryption key: %w", err)
		}
	}

	st, err := store.New(ctx, cfg.Store, encKey)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Queue.Host, cfg.Queue.Port),
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
	})
	defer redisClient.Close() //nolint:errcheck
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to queue: %w", err)
	}
	q := queue.New(redisClient, cfg.Queue.ListKey)

	resolver := credential.New(st, encKey)
	registerRefreshers(resolver, cfg.OAuth)

	cl, err := cluster.New(cfg.Server.Alan)
	if err != nil {
		return fmt.Errorf("build cluster: %w", err)
	}

	sup := supervisor.New(st, q, resolver, cl)
	srv := server.New(cfg.Server, config.Service, st, cl)

	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	g, ctx := errgroup.WithContext(ctx)

	if cl != nil {
		g.Go(func() error {
			return cl.Start(ctx, func(newKey []byte) { st.SetEncryptionKey(newKey) })
		})
	}

	g.Go(func() error {
		sup.Run(ctx)
		return nil
	})

	for i := 0; i < cfg.WorkerCount; i++ {
		id := strconv.Itoa(i)
		w := worker.New(id, q)
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return srv.Start(ctx)
	})

	return g.Wait()
}

// registerRefreshers wires the OAuth2 refresh path for every external
// service whose component kinds can hold a credential that expires, keyed
// by the same service name internal/registry tags each trigger/action/
// reaction kind with — so a single "google" UserService row refreshes once
// and serves both the gmail_receive Trigger and the send_email Reaction.
// Services the composition root has no client id/secret configured for are
// simply never registered — the Credential Resolver hands back a stale
// token unrefreshed rather than failing, same as any other
// MissingCredential path.
func registerRefreshers(resolver *credential.Resolver, oauth map[string]config.OAuthProvider) {
	if p, ok := oauth["google"]; ok && p.ClientID != "" {
		resolver.RegisterRefresher("google", google.Refresher(p.ClientID, p.ClientSecret))
	}

	if p, ok := oauth["microsoft"]; ok && p.ClientID != "" {
		resolver.RegisterRefresher("microsoft", microsoft.Refresher(p.ClientID, p.ClientSecret))
	}

	if p, ok := oauth["spotify"]; ok && p.ClientID != "" {
		resolver.RegisterRefresher("spotify", spotify.Refresher(p.ClientID, p.ClientSecret))
	}
}
