package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/database"
	rediscommon "github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/redis"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/config"
	httpapi "github.com/xMartinezYT/PlataformaIoT-sub000/internal/http"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/notify"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/repository"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	_ reconcile.SnapshotSource = (*repository.Store)(nil)
	_ reconcile.OwnerLookup    = (*repository.Store)(nil)
	_ reconcile.ActionStore    = (*repository.Store)(nil)
)

// RealtimeService 实时看板服务
type RealtimeService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	feed        *feedRuntime
	manager     *reconcile.Manager
	summary     *store.SummaryWriter
	notifier    *notify.AlertNotifier
	router      *httpapi.Router
	server      *Server

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRealtimeService 创建实时看板服务
func NewRealtimeService(cfg *config.Config, logger *zap.Logger) (*RealtimeService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化 Redis（摘要缓存，redis 传输时也用于变更流）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	svc, err := newRealtimeService(cfg, db, redisClient, logger)
	if err != nil {
		redisClient.Close()
		database.Close(db)
		return nil, err
	}
	return svc, nil
}

func newRealtimeService(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) (*RealtimeService, error) {
	metrics.Init()

	feed, err := newFeedRuntime(cfg, redisClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create change feed: %w", err)
	}

	repo := repository.NewStore(db, logger)
	opts := reconcile.DefaultOptions()
	opts.ReadingsLimit = cfg.Realtime.ReadingsLimit
	opts.NotificationsLimit = cfg.Realtime.NotificationsLimit
	opts.SnapshotDeviceCap = cfg.Realtime.SnapshotDeviceCap
	opts.InboxSize = cfg.Realtime.InboxSize
	manager := reconcile.NewManager(feed.feed, repo, repo, repo, opts, logger)

	cache := store.NewSummaryCache(store.NewRedisKVStore(redisClient), cfg.Realtime.SummaryCacheTTL, logger)
	summary := store.NewSummaryWriter(cache, logger)

	var notifier *notify.AlertNotifier
	if cfg.Webhook.URL != "" {
		notifier = notify.NewAlertNotifier(notify.Config{
			URL:         cfg.Webhook.URL,
			MinSeverity: models.AlertSeverity(strings.ToUpper(cfg.Webhook.MinSeverity)),
			Timeout:     cfg.Webhook.Timeout,
			RetryCount:  cfg.Webhook.RetryCount,
		}, logger)
	}

	router := httpapi.NewRouter(logger)
	router.RegisterRealtimeRoutes(
		httpapi.NewRealtimeHandler(manager, summary, logger).WithSummaryCache(cache),
		httpapi.NewAuthenticator(cfg.Auth.JWTSecret, logger),
	)
	router.RegisterOpsRoutes(metrics.Handler())

	return &RealtimeService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		feed:        feed,
		manager:     manager,
		summary:     summary,
		notifier:    notifier,
		router:      router,
		server:      NewServer(cfg.HTTP.Addr, router, logger),
	}, nil
}

// Handler HTTP 入口
func (s *RealtimeService) Handler() http.Handler {
	return s.router
}

// Manager 视图管理器
func (s *RealtimeService) Manager() *reconcile.Manager {
	return s.manager
}

// Start 启动变更流、后台任务与 HTTP 服务；阻塞直到 HTTP 服务退出
func (s *RealtimeService) Start(ctx context.Context) error {
	if err := s.startBackground(ctx); err != nil {
		return err
	}
	if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *RealtimeService) startBackground(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.feed.start(ctx); err != nil {
		return fmt.Errorf("failed to start change feed: %w", err)
	}
	s.logger.Info("Change feed started", zap.String("transport", s.feed.transport))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.summary.Run(ctx)
	}()

	if s.notifier != nil {
		if err := s.notifier.Start(ctx, s.feed.feed); err != nil {
			return err
		}
	}
	return nil
}

// Stop 停止服务：先停 HTTP，再关闭视图、推送与变更流，最后释放连接
func (s *RealtimeService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping realtime service")

	var errs []error
	if err := s.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}

	s.manager.CloseAll()
	if s.notifier != nil {
		s.notifier.Stop()
	}

	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if err := s.feed.close(); err != nil {
		errs = append(errs, fmt.Errorf("change feed: %w", err))
	}
	if err := s.redisClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}
