package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildingops/auth"
	"buildingops/internal/automation"
	"buildingops/internal/bridge"
	"buildingops/internal/config"
	"buildingops/internal/db"
	"buildingops/internal/db/litestore"
	"buildingops/internal/engine"
	"buildingops/internal/metrics"
	"buildingops/internal/mqtt"
	"buildingops/internal/realtime"
	"buildingops/internal/redis"
	"buildingops/internal/scheduler"
	"buildingops/internal/services"
	"buildingops/internal/taskqueue"
	"buildingops/internal/topicrouter"
	"buildingops/internal/tsdb"
	"buildingops/internal/utils"
	"buildingops/internal/web"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const retentionJob = "energy-retention"

// store is what both database drivers provide
type store interface {
	services.DeviceStore
	services.EnergyStore
	automation.Store
	engine.Store
	topicrouter.DeviceLookup
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := utils.InitLogging(cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, logger); err != nil {
		logger.Error("Engine exited with error", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	switch cfg.Driver {
	case "sqlite":
		return litestore.Open(cfg.SQLitePath)
	default:
		pg, err := db.NewDB(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := cfg.App.Location()
	m := metrics.New()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer st.Close()
	logger.Info("Database ready", "driver", cfg.Database.Driver)

	// Redis is optional: it backs the topic cache and the task queue.
	var (
		topicCache *redis.TopicCache
		redisOpt   asynq.RedisConnOpt
	)
	if cfg.Redis.Addr != "" {
		rc := redis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, running without cache and task queue", "addr", cfg.Redis.Addr, "error", err)
		} else {
			topicCache = redis.NewTopicCache(rc, cfg.Redis.TopicCacheTTL)
			redisOpt = asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		}
	}

	hub := realtime.NewHub(logger)
	hub.OnCountChange = m.SetObservers

	mqttClient := mqtt.NewClient(mqtt.Options{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		RetryInterval:  cfg.MQTT.RetryInterval,
		MaxRetries:     cfg.MQTT.MaxRetries,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		QoS:            byte(cfg.MQTT.QoS),
		OnStatusChange: m.SetMQTTConnected,
	}, logger)

	var cache topicrouter.Cache
	var invalidator services.TopicInvalidator
	if topicCache != nil {
		cache, invalidator = topicCache, topicCache
	}
	devices := services.NewDeviceService(st, mqttClient, hub, invalidator, logger)
	energy := services.NewEnergyService(st, devices, logger)
	automations := automation.NewService(st, loc, logger)

	deps := bridge.Deps{
		Resolver: topicrouter.New(st, cache, logger),
		Devices:  st,
		Energy:   st,
		Notifier: hub,
		Recorder: m,
		Logger:   logger,
	}
	influx, err := tsdb.Connect(ctx, cfg.Influx, logger)
	switch {
	case err == nil:
		defer influx.Close()
		deps.Sink = influx
	case !errors.Is(err, tsdb.ErrDisabled):
		logger.Warn("Influx mirror unavailable", "error", err)
	}
	mqttClient.SetMessageHandler(bridge.New(deps).HandleMessage)
	mqttClient.Init(ctx)

	queue := taskqueue.NewQueue(redisOpt, 2, energy, logger)
	if err := queue.Start(); err != nil {
		return err
	}

	sched := scheduler.NewScheduler(loc, logger)
	err = sched.AddJob(retentionJob, cfg.Energy.RetentionCron, func() {
		if err := queue.EnqueueRetention(context.Background(), cfg.Energy.RetentionDays); err != nil {
			logger.Error("Energy retention failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", retentionJob, err)
	}

	eng := engine.NewEngine(st, mqttClient, sched, m, engine.Options{
		SweepInterval: cfg.Engine.SweepInterval,
		Concurrency:   cfg.Engine.Concurrency,
		Location:      loc,
	}, logger)
	if err := eng.Start(); err != nil {
		return err
	}
	sched.Start()

	var metricsHandler = m.Handler()
	if !cfg.Metrics.Enabled {
		metricsHandler = nil
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	webServer := web.NewWebServer(web.Dependencies{
		Auth:        auth.NewAuthModule(cfg.JWT.Secret),
		Devices:     devices,
		Energy:      energy,
		Automations: automations,
		Engine:      eng,
		Hub:         hub,
		Transport:   mqttClient,
		Metrics:     metricsHandler,
		Recorder:    m,
		Logger:      logger,
	})
	serveErr := make(chan error, 1)
	go func() { serveErr <- webServer.Start(fmt.Sprintf(":%d", cfg.App.Port)) }()

	if cfg.MDNS.Enabled {
		go startMDNSServer(cfg.MDNS.LocalName, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server stopped", "error", err)
		}
	}

	// stop taking manual executions before waiting on the in-flight ones
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	sched.Stop()
	eng.Stop()
	hub.Close()
	queue.Stop()
	mqttClient.Shutdown()
	logger.Info("Shutdown complete")
	return nil
}

func startMDNSServer(localName string, logger *slog.Logger) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		logger.Warn("Failed to resolve UDP4 address for mDNS", "error", err)
		return
	}

	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		logger.Warn("Failed to resolve UDP6 address for mDNS", "error", err)
		return
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		logger.Warn("Failed to listen on UDP4 for mDNS", "error", err)
		return
	}

	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		logger.Warn("Failed to listen on UDP6 for mDNS", "error", err)
		return
	}

	_, err = mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		logger.Warn("Failed to start mDNS server", "error", err)
		return
	}
	logger.Info("mDNS announcing", "name", localName)
}
