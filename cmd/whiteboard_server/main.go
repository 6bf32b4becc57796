package main

import (
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
	"github.com/spf13/viper"

	"whiteboard/config"
	"whiteboard/internal/board"
	"whiteboard/internal/cache"
	"whiteboard/internal/firehose"
	"whiteboard/internal/httpapi/handlers"
	"whiteboard/internal/relay"
	"whiteboard/internal/ws"
)

func initConfig() (*config.Config, error) {
	cfg := &config.Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 config 目录启动
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.FillDefaults()
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	// 在线状态镜像：默认内存实现；开关打开后换 redis 共享实现
	var presence cache.PresenceCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		presence = cache.NewRedisPresence(rdb)
		defer rdb.Close()
	} else {
		presence = cache.NewMemoryPresence()
	}

	// 操作事件流：可选，未开启时 dispatcher 为 nil，发布直接空操作
	var dispatcher *firehose.Dispatcher
	if cfg.Kafka.Enabled {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
		dispatcher = firehose.NewDispatcher(
			producer,
			cfg.Kafka.Topic,
			firehose.NewSemaphoreControl(),
			firehose.DispatcherOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
	}

	presenceTimeout := time.Duration(cfg.Presence.TimeoutSec) * time.Second
	registry := board.NewRegistry()
	svc := relay.NewService(registry, presence, dispatcher, presenceTimeout)
	hub := ws.NewHub()
	manager := ws.NewManager(hub, svc)

	sweeper := board.NewSweeper(registry,
		time.Duration(cfg.Presence.SweepIntervalSec)*time.Second,
		presenceTimeout)
	sweeper.Start()

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// 全局 CORS：白板对来源不设限，部署层想收紧可以自己挡
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/ws", manager.WebSocketConnect)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	api := r.Group("/api")
	{
		api.GET("/rooms", handlers.ListRooms(registry))
		api.GET("/rooms/:roomId", handlers.GetRoom(registry))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}
	go func() {
		log.Printf("whiteboard server listening on :%d", cfg.Running.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	sweeper.Stop()
	_ = srv.Close()
}
