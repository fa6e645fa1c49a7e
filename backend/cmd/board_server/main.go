package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"collabBoard/backend/config"
	"collabBoard/backend/internal/board"
	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/discovery"
	"collabBoard/backend/internal/httpapi/handlers"
	"collabBoard/backend/internal/store"
	"collabBoard/backend/internal/ws"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	authOpts := ws.Options{
		InboxSize:    cfg.Authority.InboxSize,
		EventTimeout: cfg.Authority.EventTimeout,
		PresenceTTL:  cfg.Authority.PresenceTTL,
	}
	handlerOpts := handlers.RoomHandlerOptions{
		ExportLimit: cfg.Mysql.ExportLimit,
		Width:       cfg.Render.Width,
		Height:      cfg.Render.Height,
		Background:  cfg.Render.Background,
	}

	// === Redis presence（可选）===
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("ping redis failed: %v", err)
		}
		defer rdb.Close()
		presence := cache.NewRedisPresence(rdb)
		authOpts.Presence = presence
		handlerOpts.Presence = presence
	}

	// === MySQL 导出（可选）===
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("open mysql failed: %v", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		handlerOpts.Exports = store.NewSnapshotStore(db)
	}

	// === Kafka 事件流（可选）===
	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		kafkaCfg.Producer.Partitioner = sarama.NewHashPartitioner
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
		dispatcher = collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, collab.NewSemaphoreControl(), collab.KafkaDispatcherOptions{
			QueueSize:   cfg.Kafka.QueueSize,
			Workers:     cfg.Kafka.Workers,
			MaxRetry:    cfg.Kafka.MaxRetry,
			BaseBackoff: cfg.Kafka.BaseBackoff,
			MaxBackoff:  cfg.Kafka.MaxBackoff,
		})
		authOpts.Events = dispatcher
	}

	registry := board.NewRegistry()
	authority := ws.NewAuthority(registry, authOpts)
	authCtx, stopAuthority := context.WithCancel(context.Background())
	go authority.Run(authCtx)

	manager := ws.NewManager(authority, cfg.Websocket.AllowedOrigins, cfg.Websocket.SendBuffer)
	roomHandler := handlers.NewRoomHandler(authority, handlerOpts)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if cfg.Cors.Enabled {
		r.Use(cors.New(cors.Config{
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	handlers.Register(r.Group("/board"), roomHandler, manager.WebSocketConnect)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	log.Printf("board server listening on %s", srv.Addr)

	// === mDNS 广播（可选）===
	var adv *discovery.Advertiser
	if cfg.Discovery.Enabled {
		adv, err = discovery.Advertise(cfg.Discovery.Instance, cfg.Discovery.Service, cfg.Running.Port, []string{"path=/board/ws"})
		if err != nil {
			log.Printf("mdns advertise failed: %v", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	if err := adv.Shutdown(); err != nil {
		log.Printf("mdns shutdown: %v", err)
	}
	// websocket 连接已被 hijack，Shutdown 不会等它们；它们随 Authority 停止而关闭
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Running.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	stopAuthority()
	<-authority.Done()
	if dispatcher != nil {
		dispatcher.Close()
	}
	log.Printf("bye")
}
