package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/movievec/internal/service"
)

var (
	fetchBatchSize int
	fetchWorkers   int
	fetchMaxPages  int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "抓取 YTS 电影目录入库",
	Long:  `收集全量电影 ID，批量过滤已入库的，再用 worker 池并发抓详情并保存。`,
	Run: func(cmd *cobra.Command, args []string) {
		runFetch()
	},
}

func init() {
	fetchCmd.Flags().IntVar(&fetchBatchSize, "batch-size", 0, "每个批次的电影数（默认取 YTS_BATCH_SIZE）")
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", 0, "worker 数（默认 2×CPU）")
	fetchCmd.Flags().IntVar(&fetchMaxPages, "max-pages", 0, "只收集前 N 个列表页，0 表示全部")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch() {
	cfg.LogSummary()

	repos, closeDB, err := openDB()
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	defer closeDB()

	catalog := service.NewCatalogClient(cfg.YTSBaseURL)
	ingest := service.NewIngestService(catalog, repos.Movie, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go monitorProgress(ctx, ingest.Progress, done, "[抓取]")

	report, err := ingest.Run(ctx, service.IngestOptions{
		MaxPages:  fetchMaxPages,
		BatchSize: fetchBatchSize,
		Workers:   fetchWorkers,
	})
	close(done)
	if err != nil {
		if errors.Is(err, context.Canceled) && report != nil {
			log.Printf("[抓取] 收到退出信号，已处理 %d/%d", report.Success+report.Failed+report.Skipped, report.Total)
			return
		}
		log.Fatalf("抓取失败: %v", err)
	}
}
