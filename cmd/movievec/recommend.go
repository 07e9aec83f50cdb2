package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/movievec/internal/model"
	"github.com/user/movievec/internal/repository"
	"github.com/user/movievec/internal/service"
)

var (
	recMovieID  int64
	recExternal bool
	recText     string
	recGenre    string
	recTrending bool
	recTop      bool
	recMetric   string
	recLimit    int
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "命令行查相似电影",
	Long: `按电影 ID、文本描述、类型或榜单查电影。
示例:
  movievec recommend --movie-id 123
  movievec recommend --movie-id 10 --external --metric l2
  movievec recommend --text "space exploration adventure" --limit 5
  movievec recommend --genre Sci-Fi
  movievec recommend --trending
  movievec recommend --top --limit 20`,
	Run: func(cmd *cobra.Command, args []string) {
		runRecommend()
	},
}

func init() {
	recommendCmd.Flags().Int64Var(&recMovieID, "movie-id", 0, "按电影内部 ID 推荐")
	recommendCmd.Flags().BoolVar(&recExternal, "external", false, "movie-id 按上游目录 ID 解释")
	recommendCmd.Flags().StringVar(&recText, "text", "", "按文本描述推荐")
	recommendCmd.Flags().StringVar(&recGenre, "genre", "", "按类型列高分电影")
	recommendCmd.Flags().BoolVar(&recTrending, "trending", false, "近年热门榜")
	recommendCmd.Flags().BoolVar(&recTop, "top", false, "高分榜")
	recommendCmd.Flags().StringVar(&recMetric, "metric", "cosine", "距离度量 (cosine/l2/inner_product)")
	recommendCmd.Flags().IntVar(&recLimit, "limit", 10, "返回条数")
	rootCmd.AddCommand(recommendCmd)
}

func runRecommend() {
	modes := 0
	if recMovieID > 0 {
		modes++
	}
	if recText != "" {
		modes++
	}
	if recGenre != "" {
		modes++
	}
	if recTrending {
		modes++
	}
	if recTop {
		modes++
	}
	if modes == 0 {
		log.Fatal("请用 --movie-id、--text、--genre、--trending 或 --top 指定查询目标")
	}
	if modes > 1 {
		log.Fatal("--movie-id/--text/--genre/--trending/--top 只能选一个")
	}

	metric, err := repository.ParseMetric(recMetric)
	if err != nil {
		log.Fatalf("%v", err)
	}

	repos, closeDB, err := openDB()
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	defer closeDB()

	// 只有文本推荐才需要嵌入服务
	var embedder service.VectorEmbedder
	if recText != "" {
		e, err := service.NewEmbedder(cfg)
		if err != nil {
			log.Fatalf("嵌入服务不可用: %v", err)
		}
		embedder = e
	}

	rec := service.NewRecommendService(repos.Movie, repos.Embedding, embedder)

	// 榜单类查询直接列电影，不走向量
	switch {
	case recGenre != "":
		movies, err := rec.ByGenres([]string{recGenre}, 0, recLimit)
		if err != nil {
			log.Fatalf("推荐查询失败: %v", err)
		}
		fmt.Printf("%s 类评分最高的电影:\n\n", recGenre)
		printMovies(movies)
		return
	case recTrending:
		movies, err := rec.Trending(0, recLimit)
		if err != nil {
			log.Fatalf("推荐查询失败: %v", err)
		}
		fmt.Printf("近年热门电影:\n\n")
		printMovies(movies)
		return
	case recTop:
		movies, err := rec.TopRated(0, recLimit)
		if err != nil {
			log.Fatalf("推荐查询失败: %v", err)
		}
		fmt.Printf("高分电影榜:\n\n")
		printMovies(movies)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recs []service.Recommendation
	if recText != "" {
		recs, err = rec.SimilarByText(ctx, recText, metric, recLimit)
		if err != nil {
			log.Fatalf("推荐查询失败: %v", err)
		}
		fmt.Printf("与 %q 最相似的电影（%s）:\n\n", recText, metric)
	} else {
		var src *model.Movie
		if recExternal {
			src, recs, err = rec.SimilarByExternalID(recMovieID, metric, recLimit)
		} else {
			src, recs, err = rec.SimilarByID(recMovieID, metric, recLimit)
		}
		if errors.Is(err, service.ErrNotFound) {
			log.Fatalf("电影 %d 不存在", recMovieID)
		}
		if err != nil {
			log.Fatalf("推荐查询失败: %v", err)
		}
		fmt.Printf("与《%s》(%d) 最相似的电影（%s）:\n\n", src.Title, src.Year, metric)
	}

	if len(recs) == 0 {
		fmt.Println("没有找到推荐结果（该电影可能还没有向量）")
		return
	}
	printRecommendations(recs)
}

func printRecommendations(recs []service.Recommendation) {
	for i, r := range recs {
		fmt.Printf("%d. %s (%d) - ⭐ %.1f\n", i+1, r.Movie.Title, r.Movie.Year, r.Movie.Rating)
		if len(r.Movie.Genres) > 0 {
			fmt.Printf("   Genres: %s\n", joinGenres(r.Movie.Genres))
		}
		fmt.Printf("   Similarity: %.3f\n\n", r.Similarity)
	}
}

func printMovies(movies []model.Movie) {
	if len(movies) == 0 {
		fmt.Println("没有符合条件的电影")
		return
	}
	for i, m := range movies {
		fmt.Printf("%d. %s (%d) - ⭐ %.1f 👍 %d\n", i+1, m.Title, m.Year, m.Rating, m.LikeCount)
		if len(m.Genres) > 0 {
			fmt.Printf("   Genres: %s\n", joinGenres(m.Genres))
		}
		fmt.Println()
	}
}

func joinGenres(genres []model.Genre) string {
	names := make([]string, len(genres))
	for i, g := range genres {
		names[i] = g.Name
	}
	return strings.Join(names, ", ")
}
