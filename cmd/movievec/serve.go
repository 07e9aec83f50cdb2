package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/user/movievec/internal/handler"
	"github.com/user/movievec/internal/middleware"
	"github.com/user/movievec/internal/router"
	"github.com/user/movievec/internal/service"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动推荐 HTTP 服务",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "监听端口（默认取 SERVER_PORT）")
	rootCmd.AddCommand(serveCmd)
}

func runServe() {
	if servePort != "" {
		cfg.ServerPort = servePort
	}
	cfg.LogSummary()

	repos, closeDB, err := openDB()
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	defer closeDB()

	// 嵌入服务探活失败不阻止启动，只是文本推荐接口返回 503
	var embedder service.VectorEmbedder
	if e, err := service.NewEmbedder(cfg); err != nil {
		log.Printf("[服务] 嵌入服务不可用，文本推荐接口将返回 503: %v", err)
	} else {
		embedder = e
	}

	// 初始化 Gin
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 中间件
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 初始化 Handler 并注册路由
	h := handler.NewHandler(repos, cfg, embedder)
	router.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
		// 文本推荐要等嵌入服务返回，写超时给足余量
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   cfg.OllamaTimeout + 10*time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		log.Printf("服务器启动于 http://localhost:%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务器...")

	// 5 秒超时上下文用于关闭过程
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("服务器强制关闭:", err)
	}

	log.Println("服务器已退出")
}
