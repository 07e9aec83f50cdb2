package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "打印数据库统计",
	Run: func(cmd *cobra.Command, args []string) {
		repos, closeDB, err := openDB()
		if err != nil {
			log.Fatalf("数据库连接失败: %v", err)
		}
		defer closeDB()

		stats, err := repos.Movie.Stats()
		if err != nil {
			log.Fatalf("统计查询失败: %v", err)
		}

		fmt.Println("📊 数据库统计")
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("电影总数:       %d\n", stats.Movies)
		fmt.Printf("类型数:         %d\n", stats.Genres)
		fmt.Printf("演员数:         %d\n", stats.Casts)
		fmt.Printf("种子数:         %d\n", stats.Torrents)
		fmt.Printf("已生成向量:     %d\n", stats.Embeddings)
		fmt.Printf("向量覆盖率:     %.1f%%\n", stats.Coverage*100)
		if stats.Movies > 0 {
			fmt.Printf("平均评分:       %.2f\n", stats.AvgRating)
			fmt.Printf("年份范围:       %d - %d\n", stats.MinYear, stats.MaxYear)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
