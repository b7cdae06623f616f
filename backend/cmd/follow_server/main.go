package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"followServer/backend/internal/cache"
	"followServer/backend/internal/collab"
	"followServer/backend/internal/httpapi/handlers"
	"followServer/backend/internal/httpapi/middleware"
	"followServer/backend/internal/project"
	"followServer/backend/internal/store"
	"followServer/backend/internal/ws"
)

type FollowConfig struct {
	Running struct {
		Port       int  `mapstructure:"port"`
		EnableCors bool `mapstructure:"enableCors"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		// 配置了 path 就走认证服务校验，否则用本地 jwtSecret
		Path      string `mapstructure:"path"`
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	Follow struct {
		QueueSize     int           `mapstructure:"queueSize"`
		FlushInterval time.Duration `mapstructure:"flushInterval"`
		SnapshotEvery uint64        `mapstructure:"snapshotEvery"`
		PresenceTTL   time.Duration `mapstructure:"presenceTTL"`
		MaxSubmits    int           `mapstructure:"maxSubmits"`
	} `mapstructure:"follow"`
}

func initConfig() (*FollowConfig, error) {
	// 兼容从项目根目录或 backend 目录启动
	return loadConfig("./backend/config", "./config", ".")
}

func loadConfig(paths ...string) (*FollowConfig, error) {
	cfg := &FollowConfig{}
	v := viper.New()
	v.SetConfigName("followConfig")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetDefault("running.port", 3002)
	v.SetDefault("follow.flushInterval", 50*time.Millisecond)
	v.SetDefault("follow.presenceTTL", 30*time.Second)
	// FOLLOW_MYSQL_DSN 之类的环境变量覆盖配置文件
	v.SetEnvPrefix("FOLLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d redis=%v kafka=%v topic=%s", cfg.Running.Port, cfg.Redis.Addrs, cfg.Kafka.Brokers, cfg.Kafka.Topic)

	// 单地址是单机，多地址是集群
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("ping redis failed: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("open mysql failed: %v", err)
	}
	defer db.Close()
	if err := store.EnsureSchema(pingCtx, db); err != nil {
		log.Fatalf("ensure schema failed: %v", err)
	}
	gdb, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("init gorm failed: %v", err)
	}

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("connect kafka failed: %v", err)
	}
	defer producer.Close()

	kafkaDispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		collab.NewSemaphoreControl(8),
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	presence := cache.NewRedisPresence(rdb)
	bufferStore := store.NewBufferStore(gdb)
	itemStore := store.NewItemStore(db)
	snapshotStore := store.NewSnapshotStore(db)
	svc := collab.NewInMemoryService(project.New(bufferStore), collab.Deps{
		Buffers:    bufferStore,
		Snapshots:  snapshotStore,
		Items:      itemStore,
		Presence:   presence,
		Dispatcher: kafkaDispatcher,
	}, collab.Options{
		QueueSize:     cfg.Follow.QueueSize,
		FlushInterval: cfg.Follow.FlushInterval,
		SnapshotEvery: cfg.Follow.SnapshotEvery,
		PresenceTTL:   cfg.Follow.PresenceTTL,
		MaxSubmits:    cfg.Follow.MaxSubmits,
	})

	hub := ws.NewHub(presence)
	manager := ws.NewManager(hub, svc, cfg.Follow.PresenceTTL)
	viewHandler := handlers.NewViewHandler(svc, presence)
	itemHandler := handlers.NewItemHandler(itemStore, snapshotStore)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	// 经网关访问时网关已经加了 CORS，这里默认关闭，直连调试时再打开
	if cfg.Running.EnableCors {
		router.Use(cors.New(cors.Config{
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	follow := router.Group("/follow")
	if cfg.Auth.Path != "" {
		follow.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	} else {
		secret := cfg.Auth.JWTSecret
		if secret == "" {
			secret = "dev-secret"
		}
		follow.Use(middleware.JWTMiddleware([]byte(secret)))
	}
	follow.GET("/ws", manager.WebSocketConnect)
	viewHandler.Register(follow.Group("/views"))
	itemHandler.Register(follow)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen failed: %v", err)
		}
	}()
	log.Printf("follow server listening on :%d", cfg.Running.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	// 关闭前把各视图的 buffer 与条目落库
	for _, id := range svc.Views() {
		if err := svc.CloseView(shutdownCtx, id); err != nil {
			log.Printf("close view error view=%s err=%v", collab.ViewKey(id), err)
		}
	}
	svc.Close()
	if err := kafkaDispatcher.Close(shutdownCtx); err != nil {
		log.Printf("kafka dispatcher close error: %v", err)
	}
}
