package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stagepass/session-service/handlers"
	"github.com/stagepass/session-service/internal/analytics"
	"github.com/stagepass/session-service/internal/authstate"
	"github.com/stagepass/session-service/internal/config"
	"github.com/stagepass/session-service/internal/database"
	"github.com/stagepass/session-service/internal/errtrack"
	"github.com/stagepass/session-service/internal/functions"
	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/internal/oidc"
	"github.com/stagepass/session-service/internal/profile"
	"github.com/stagepass/session-service/internal/readcache"
	"github.com/stagepass/session-service/internal/route"
	"github.com/stagepass/session-service/internal/sessions"
	"github.com/stagepass/session-service/internal/shell"
	"github.com/stagepass/session-service/internal/timezone"
	"github.com/stagepass/session-service/pkg/logger"
	"github.com/stagepass/session-service/pkg/metrics"
	"github.com/stagepass/session-service/pkg/middleware"
)

var startTime = time.Now()

// identitySource is what the HTTP layer and the manager need from a source.
type identitySource interface {
	identity.Source
	handlers.PasswordSignIn
}

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v", cfg.Keycloak.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Addr() != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	rdb := connectRedis(ctx, cfg)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		sessions.SetRevocationClient(rdb)
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	sessionID := uuid.NewString()
	var cache readcache.Cache = readcache.NewMemoryCache(cfg.Redis.CacheTTL)
	var sessRepo sessions.Repository = sessions.NewMemoryRepository()
	var tracker analytics.Tracker = &analytics.NopTracker{}
	if rdb != nil {
		cache = readcache.NewRedisCache(rdb, readcache.SessionPrefix(sessionID), cfg.Redis.CacheTTL)
		sessRepo = sessions.NewRedisRepository(rdb, "session:")
		tracker = analytics.NewRedisTracker(rdb, "")
	}

	var store profile.Store = profile.NewMemoryStore()
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		mongoClient, err = database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			logger.Warnf("could not connect to MongoDB, profiles stay in memory: %v", err)
		} else {
			db := mongoClient.Database(cfg.MongoDB.Database)
			if err := database.EnsureIndexes(ctx, db); err != nil {
				logger.Warnf("ensure indexes: %v", err)
			}
			store = profile.NewMongoStore(db.Collection("profiles"), db.Collection("profileStats"))
			if rdb == nil {
				sessRepo = sessions.NewMongoRepository(db.Collection("sessions"))
			}
		}
	}
	store = profile.NewCachedStore(store, cache)

	source, verifier, err := buildIdentity(ctx, cfg)
	if err != nil {
		logger.Fatalf("identity source: %v", err)
	}

	var fns functions.Client
	if cfg.Functions.BaseURL != "" {
		fns = functions.NewHTTPClient(cfg.Functions.BaseURL, func(ctx context.Context) (string, error) {
			tr, err := source.IDTokenResult(ctx, false)
			if err != nil {
				return "", err
			}
			return tr.Token, nil
		}, cfg.Functions.Timeout)
	} else {
		fns = functions.NewLocal(store, source)
	}

	detect := timezone.Detect
	if cfg.Client.Timezone != "" {
		detect = timezone.Fixed(cfg.Client.Timezone)
	}

	mirror := sessions.NewService(sessRepo, sessionID)
	router := route.NewMemoryRouter(cfg.Routes.HomePath)
	deps := authstate.Deps{
		Identity: source,
		Profiles: store,
		Router:   router,
		Rules: route.Rules{
			AuthRequired:  cfg.Routes.AuthRequired,
			AdminRequired: cfg.Routes.AdminRequired,
			LoginPath:     cfg.Routes.LoginPath,
			SignupPath:    cfg.Routes.SignupPath,
			HomePath:      cfg.Routes.HomePath,
		},
		Functions: fns,
		Cache:     cache,
		Cookie:    mirror,
		Analytics: tracker,
		Errors:    errtrack.NewLogReporter(50),
	}
	if rdb != nil && cfg.Client.ShellEmbedded {
		deps.Shell = shell.NewRedisBridge(rdb, mirror.ID())
	}

	mgr := authstate.NewManager(deps,
		authstate.WithTimezone(detect),
		authstate.WithShellEmbedded(cfg.Client.ShellEmbedded && deps.Shell != nil),
		authstate.WithID(mirror.ID()),
	)
	if err := mgr.Start(ctx); err != nil {
		logger.Fatalf("start session manager: %v", err)
	}

	handlers.NewSessionHandler(mgr, router, mirror, verifier, source, cfg.Server.CookieSecure).Register(r.Group(""))
	handlers.RegisterSwagger(r)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// ready once the identity source has resolved and backing stores answer
	r.GET("/ready", func(c *gin.Context) {
		checks := map[string]bool{"identity": mgr.Session().IsLoaded}
		if rdb != nil {
			checks["redis"] = rdb.Ping(c.Request.Context()).Err() == nil
		}
		if mongoClient != nil {
			checks["mongo"] = mongoClient.Ping(c.Request.Context(), nil) == nil
		}
		ready := true
		for _, ok := range checks {
			ready = ready && ok
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": checks, "session": mgr.Snapshot().Phase(), "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting session service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	mgr.Stop()
	if mongoClient != nil {
		_ = mongoClient.Disconnect(shutdownCtx)
	}
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	addr := cfg.Redis.Addr()
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
		_ = client.Close()
		return nil
	}
	logger.Infof("connected to Redis: %s", addr)
	return client
}

// buildIdentity picks the Keycloak source when configured, otherwise a
// development source that signs any credentials in.
func buildIdentity(ctx context.Context, cfg *config.Config) (identitySource, middleware.Verifier, error) {
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" {
		if cfg.Keycloak.AllowInsecure {
			logger.Warn("enabling insecure OIDC verifier (integration mode)")
		}
		src, err := oidc.NewKeycloakSource(ctx, cfg.Keycloak.Issuer(), cfg.Keycloak.ClientID, cfg.Keycloak.ClientSecret, cfg.Keycloak.AllowInsecure)
		if err != nil {
			return nil, nil, err
		}
		src.Resolve()
		return src, src.Verifier(), nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, nil, fmt.Errorf("dev secret: %w", err)
	}
	logger.Warn("KEYCLOAK_URL not set: using the development identity source")
	dev := identity.NewDevSource(secret)
	dev.Resolve()
	return dev, identity.HMACVerifier(secret), nil
}
