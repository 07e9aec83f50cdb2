package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/user/movievec/internal/config"
	"github.com/user/movievec/internal/model"
	"github.com/user/movievec/internal/repository"
	"github.com/user/movievec/internal/utils"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "movievec",
	Short: "YTS 电影目录抓取、向量化与推荐服务",
	Long: `movievec 把 YTS 电影目录抓进 PostgreSQL，
用 Ollama 生成电影语义向量（pgvector 存储），
并提供相似电影与文本描述推荐的查询接口。`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// 加载环境变量
		if err := godotenv.Load(); err != nil {
			log.Println("未找到 .env 文件，使用系统环境变量")
		}
		cfg = config.Load()
		utils.InitCache()
	},
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// openDB 连接数据库并构建仓库集合
func openDB() (*repository.Repositories, func(), error) {
	db, err := repository.InitDB(cfg.DatabaseURL, cfg.DBPoolSize, cfg.DBOverflow)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return repository.NewRepositories(db), closeFn, nil
}

// monitorProgress 每 5 秒打一行流水线进度，直到 done 关闭
func monitorProgress(ctx context.Context, p *model.Progress, done <-chan struct{}, prefix string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Snapshot()
			if s.Total == 0 {
				continue
			}
			log.Printf("%s 进度 %.1f%% (%d/%d) 成功 %d 跳过 %d 失败 %d 速率 %.1f/秒 预计剩余 %s",
				prefix, s.Percent(), s.Completed, s.Total,
				s.Success, s.Skipped, s.Failed, s.Rate(), s.ETA().Round(time.Second))
		}
	}
}
