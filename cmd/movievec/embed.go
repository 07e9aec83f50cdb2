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
	embedForce      bool
	embedLimit      int
	embedBatchSize  int
	embedConcurrent int
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "为入库电影生成语义向量",
	Long:  `找出还没有向量的电影，拼接元数据文本，调用 Ollama 生成向量存入 pgvector。`,
	Run: func(cmd *cobra.Command, args []string) {
		runEmbed()
	},
}

func init() {
	embedCmd.Flags().BoolVar(&embedForce, "force", false, "已有向量的也重新生成")
	embedCmd.Flags().IntVar(&embedLimit, "limit", 0, "只处理前 N 部候选，0 表示全部")
	embedCmd.Flags().IntVar(&embedBatchSize, "batch-size", 0, "每批电影数（默认取 EMBEDDING_BATCH_SIZE）")
	embedCmd.Flags().IntVar(&embedConcurrent, "concurrent", 0, "同时在途的嵌入请求数（默认取 EMBEDDING_MAX_CONCURRENT）")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed() {
	repos, closeDB, err := openDB()
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	defer closeDB()

	// 探活失败直接终止，不让批次跑一半才发现服务不可用
	embedder, err := service.NewEmbedder(cfg)
	if err != nil {
		log.Fatalf("嵌入服务不可用: %v", err)
	}

	backfill := service.NewBackfillService(repos.Movie, repos.Embedding, embedder, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go monitorProgress(ctx, backfill.Progress, done, "[向量]")

	report, err := backfill.Run(ctx, service.BackfillOptions{
		Force:         embedForce,
		Limit:         embedLimit,
		BatchSize:     embedBatchSize,
		MaxConcurrent: embedConcurrent,
	})
	close(done)
	if err != nil {
		if errors.Is(err, context.Canceled) && report != nil {
			log.Printf("[向量] 收到退出信号，已处理 %d/%d", report.Success+report.Failed+report.Skipped, report.Total)
			return
		}
		log.Fatalf("向量回填失败: %v", err)
	}
}
