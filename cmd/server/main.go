package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/remotehub/internal/api"
	"github.com/technosupport/remotehub/internal/auth"
	"github.com/technosupport/remotehub/internal/compliance"
	"github.com/technosupport/remotehub/internal/config"
	"github.com/technosupport/remotehub/internal/consent"
	"github.com/technosupport/remotehub/internal/events"
	"github.com/technosupport/remotehub/internal/frame"
	"github.com/technosupport/remotehub/internal/hub"
	"github.com/technosupport/remotehub/internal/metrics"
	"github.com/technosupport/remotehub/internal/middleware"
	"github.com/technosupport/remotehub/internal/platform/paths"
	"github.com/technosupport/remotehub/internal/presence"
	"github.com/technosupport/remotehub/internal/ratelimit"
	"github.com/technosupport/remotehub/internal/session"
	"github.com/technosupport/remotehub/internal/store"
	"github.com/technosupport/remotehub/internal/tokens"
	"github.com/technosupport/remotehub/internal/viewer"
)

// metricsSource combines the Session Registry's connection counts with the
// Viewer Gate's attachment count so a single type can satisfy
// metrics.Source, which neither component owns alone. It is constructed
// before the Registry and Gate themselves to break the construction cycle
// (Registry needs the collector as its MetricsSink; the collector needs
// the Registry to poll) and holds onto them by pointer-to-pointer so it
// sees the values main assigns a few lines later.
type metricsSource struct {
	registry **hub.Registry
	viewers  **viewer.Gate
}

func (s metricsSource) ConnectedAgents() int   { return (*s.registry).ConnectedAgents() }
func (s metricsSource) ConnectedAdmins() int   { return (*s.registry).ConnectedAdmins() }
func (s metricsSource) ViewerAttachments() int { return (*s.viewers).Total() }

func main() {
	if err := paths.EnsureDirs(); err != nil {
		log.Fatalf("platform init error: %v", err)
	}

	cfgPath := paths.ResolveConfigPath(os.Getenv("HUB_CONFIG_PATH"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	st := store.New(cfg.DataDir)
	if err := st.Load(); err != nil {
		log.Fatalf("store load error: %v", err)
	}

	// Shared Redis client backs login lockouts, rate limiting, and the
	// token blacklist.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	lockouts := session.NewManagerFromClient(rdb)
	tokenMgr := tokens.NewManager(cfg.JWTSecret)
	blacklist := auth.NewRedisBlacklist(rdb)

	// Admins: compiled-in seed merged with a hot-reloaded overlay file.
	admins := config.NewAdminDirectory()
	overlayCtx, cancelOverlay := context.WithCancel(context.Background())
	defer cancelOverlay()
	admins.Watch(overlayCtx, cfg.AdminsOverlayPath)

	authService := auth.NewService(admins, lockouts, tokenMgr, blacklist)

	limiter := ratelimit.NewLimiter(rdb, cfg.JWTSecret)
	rlMiddleware := middleware.NewRateLimitMiddleware(limiter, middleware.RateLimitConfig{
		GlobalIP: cfg.RateLimit.ToLimitConfig(),
		Admin:    cfg.RateLimit.ToLimitConfig(),
		Login:    cfg.LoginRateLimit.ToLimitConfig(),
	})
	jwtMiddleware := middleware.NewJWTAuth(tokenMgr, blacklist)

	// NATS export is best-effort: a dial failure is logged and the hub runs
	// on with a nil Publisher rather than refusing to start.
	var bus *events.Publisher
	if pub, err := events.Connect(cfg.NATSURL, 3); err != nil {
		log.Printf("main: NATS connect failed, continuing without event export: %v", err)
	} else {
		bus = pub
		defer bus.Close()
	}

	var registry *hub.Registry
	var viewers *viewer.Gate
	collector := metrics.NewCollector(metricsSource{registry: &registry, viewers: &viewers})

	registry = hub.NewRegistry(st, collector, bus)
	viewers = viewer.NewGate(registry)
	frames := frame.NewRouter(time.Duration(cfg.MinFrameIntervalMS)*time.Millisecond, collector, st, st)
	coordinator := consent.NewCoordinator(st, registry, collector)
	complianceIngest := compliance.NewIngester(st, registry, bus)

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	monitor := presence.NewMonitor(st, registry, time.Duration(cfg.PresenceTTLSeconds)*time.Second, presence.DefaultTick)
	go monitor.Run(monitorCtx)

	metricsCtx, cancelMetrics := context.WithCancel(context.Background())
	defer cancelMetrics()
	go collector.Start(metricsCtx)

	edge := &api.Edge{
		Store:          st,
		Registry:       registry,
		Frames:         frames,
		Viewers:        viewers,
		Consent:        coordinator,
		Compliance:     complianceIngest,
		AuthService:    authService,
		Tokens:         tokenMgr,
		DefaultTenant:  cfg.DefaultTenant,
		StaticDir:      os.Getenv("HUB_STATIC_DIR"),
		JWTAuth:        jwtMiddleware,
		RateLimit:      rlMiddleware,
		MetricsHandler: collector.Handler(),
	}

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: edge.Router(),
	}

	go func() {
		log.Printf("main: listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("main: http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Printf("main: shutdown signal received")

	cancelMonitor()
	cancelMetrics()
	cancelOverlay()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: graceful shutdown error: %v", err)
	}
	log.Printf("main: stopped")
}
