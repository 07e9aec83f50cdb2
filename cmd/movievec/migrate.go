package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/user/movievec/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "建表并创建 pgvector 扩展与索引",
	Run: func(cmd *cobra.Command, args []string) {
		repos, closeDB, err := openDB()
		if err != nil {
			log.Fatalf("数据库连接失败: %v", err)
		}
		defer closeDB()

		if err := repository.Migrate(repos.DB); err != nil {
			log.Fatalf("数据库迁移失败: %v", err)
		}
		log.Println("[迁移] 数据库结构已就绪")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
