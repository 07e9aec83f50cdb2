package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"

	"github.com/user/movievec/internal/model"
	"github.com/user/movievec/internal/repository"
	"github.com/user/movievec/internal/utils"
)

// 推荐结果条数的边界
const (
	defaultLimit = 10
	maxLimit     = 100
)

// 榜单类查询的门槛
const (
	trendingMinYear  = 2020
	topRatedMinVotes = 100
	genreMinRating   = 6.0
)

// VectorEmbedder 文本推荐对嵌入客户端的依赖
type VectorEmbedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Recommendation 一条推荐结果。Similarity 的含义随度量变化：
// 余弦是 0~1 的相似度，欧氏是距离本身，内积是原始内积。
type Recommendation struct {
	Movie      model.Movie `json:"movie"`
	Similarity float64     `json:"similarity"`
	Distance   float64     `json:"distance"`
}

// RecommendService 查询与推荐门面：电影查询、全文检索、向量近邻推荐、榜单
type RecommendService struct {
	movies *repository.MovieRepository
	embeds *repository.EmbeddingRepository

	embedder  VectorEmbedder // nil 表示文本推荐不可用
	textCache *utils.LRUCache[pgvector.Vector]
	sf        singleflight.Group
}

func NewRecommendService(movies *repository.MovieRepository, embeds *repository.EmbeddingRepository, embedder VectorEmbedder) *RecommendService {
	return &RecommendService{
		movies:    movies,
		embeds:    embeds,
		embedder:  embedder,
		textCache: utils.NewLRUCache[pgvector.Vector](1000, time.Hour),
	}
}

// MovieByID 按内部 ID 查询，未找到返回 ErrNotFound
func (s *RecommendService) MovieByID(id int64) (*model.Movie, error) {
	movie, err := s.movies.FindByID(id)
	if err != nil {
		return nil, err
	}
	if movie == nil {
		return nil, ErrNotFound
	}
	return movie, nil
}

// MovieByExternalID 按上游目录 ID 查询，未找到返回 ErrNotFound
func (s *RecommendService) MovieByExternalID(externalID int64) (*model.Movie, error) {
	movie, err := s.movies.FindByExternalID(externalID)
	if err != nil {
		return nil, err
	}
	if movie == nil {
		return nil, ErrNotFound
	}
	return movie, nil
}

// Search 标题+简介全文检索
func (s *RecommendService) Search(query string, limit int) ([]model.Movie, error) {
	return s.movies.Search(query, clampLimit(limit))
}

// SimilarByID 与指定电影最相似的电影。返回查询电影本身和推荐列表；
// 电影不存在返回 ErrNotFound，电影存在但还没有向量返回空列表。
func (s *RecommendService) SimilarByID(movieID int64, metric repository.Metric, limit int) (*model.Movie, []Recommendation, error) {
	movie, err := s.movies.FindByID(movieID)
	if err != nil {
		return nil, nil, err
	}
	if movie == nil {
		return nil, nil, ErrNotFound
	}

	neighbors, err := s.embeds.NearestNeighbors(movieID, metric, clampLimit(limit))
	if err != nil {
		return nil, nil, err
	}
	recs, err := s.hydrate(neighbors, metric)
	if err != nil {
		return nil, nil, err
	}
	return movie, recs, nil
}

// SimilarByExternalID 同 SimilarByID，按上游目录 ID 定位查询电影
func (s *RecommendService) SimilarByExternalID(externalID int64, metric repository.Metric, limit int) (*model.Movie, []Recommendation, error) {
	movie, err := s.movies.FindByExternalID(externalID)
	if err != nil {
		return nil, nil, err
	}
	if movie == nil {
		return nil, nil, ErrNotFound
	}

	neighbors, err := s.embeds.NearestNeighbors(movie.ID, metric, clampLimit(limit))
	if err != nil {
		return nil, nil, err
	}
	recs, err := s.hydrate(neighbors, metric)
	if err != nil {
		return nil, nil, err
	}
	return movie, recs, nil
}

// SimilarByText 按自由文本推荐。相同文本的查询向量走 LRU 缓存，
// 并发的首个未命中用 singleflight 合并，嵌入服务只会看到一次请求。
func (s *RecommendService) SimilarByText(ctx context.Context, text string, metric repository.Metric, limit int) ([]Recommendation, error) {
	if s.embedder == nil {
		return nil, ErrEmbedderUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("查询文本不能为空")
	}

	vec, err := s.textVector(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("生成查询向量失败: %w", err)
	}

	neighbors, err := s.embeds.NearestByVector(vec, metric, clampLimit(limit), 0)
	if err != nil {
		return nil, err
	}
	return s.hydrate(neighbors, metric)
}

// textVector 查询文本的向量，先查缓存再打嵌入服务
func (s *RecommendService) textVector(ctx context.Context, text string) (pgvector.Vector, error) {
	if vec, ok := s.textCache.Get(text); ok {
		return vec, nil
	}

	v, err, _ := s.sf.Do(text, func() (interface{}, error) {
		if vec, ok := s.textCache.Get(text); ok {
			return vec, nil
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return pgvector.Vector{}, err
		}
		s.textCache.Set(text, vec)
		return vec, nil
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return v.(pgvector.Vector), nil
}

// hydrate 把近邻结果装配成推荐列表，保持距离升序。
// 向量还在但电影已删的条目直接跳过。
func (s *RecommendService) hydrate(neighbors []repository.Neighbor, metric repository.Metric) ([]Recommendation, error) {
	if len(neighbors) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.MovieID
	}
	movies, err := s.movies.FindByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.Movie, len(movies))
	for i := range movies {
		byID[movies[i].ID] = &movies[i]
	}

	recs := make([]Recommendation, 0, len(neighbors))
	for _, n := range neighbors {
		m, ok := byID[n.MovieID]
		if !ok {
			continue
		}
		recs = append(recs, Recommendation{
			Movie:      *m,
			Distance:   n.Distance,
			Similarity: metric.Similarity(n.Distance),
		})
	}
	return recs, nil
}

// ByGenres 按类型推荐，minRating<=0 用默认评分门槛
func (s *RecommendService) ByGenres(genres []string, minRating float64, limit int) ([]model.Movie, error) {
	if minRating <= 0 {
		minRating = genreMinRating
	}
	return s.movies.ByGenres(genres, minRating, clampLimit(limit))
}

// Trending 近年热门榜，minYear<=0 用默认年份门槛，结果缓存十分钟
func (s *RecommendService) Trending(minYear, limit int) ([]model.Movie, error) {
	if minYear <= 0 {
		minYear = trendingMinYear
	}
	limit = clampLimit(limit)
	key := fmt.Sprintf("trending:%d:%d", minYear, limit)
	if cached, ok := utils.CacheGet(key); ok {
		if movies, ok := cached.([]model.Movie); ok {
			return movies, nil
		}
	}

	movies, err := s.movies.Trending(minYear, limit)
	if err != nil {
		return nil, err
	}
	utils.CacheSet(key, movies, 10*time.Minute)
	return movies, nil
}

// TopRated 高分榜，minVotes<=0 用默认点赞门槛，结果缓存十分钟
func (s *RecommendService) TopRated(minVotes, limit int) ([]model.Movie, error) {
	if minVotes <= 0 {
		minVotes = topRatedMinVotes
	}
	limit = clampLimit(limit)
	key := fmt.Sprintf("top_rated:%d:%d", minVotes, limit)
	if cached, ok := utils.CacheGet(key); ok {
		if movies, ok := cached.([]model.Movie); ok {
			return movies, nil
		}
	}

	movies, err := s.movies.TopRated(minVotes, limit)
	if err != nil {
		return nil, err
	}
	utils.CacheSet(key, movies, 10*time.Minute)
	return movies, nil
}

// ByYearRange 年份区间查询（闭区间）
func (s *RecommendService) ByYearRange(startYear, endYear, limit int) ([]model.Movie, error) {
	return s.movies.ByYearRange(startYear, endYear, clampLimit(limit))
}

// Stats 数据库统计
func (s *RecommendService) Stats() (*repository.DBStats, error) {
	return s.movies.Stats()
}

// clampLimit 结果条数兜底：非正取默认值，超上限截到上限
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
