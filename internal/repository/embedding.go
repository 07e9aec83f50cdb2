package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/user/movievec/internal/model"
)

// Metric 向量距离度量，闭合枚举。
// 未知的度量名在 ParseMetric 就被拒绝，后续代码只会拿到合法值。
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricInnerProduct
)

// ErrUnknownMetric 未知的距离度量名
var ErrUnknownMetric = errors.New("未知的距离度量")

// ParseMetric 解析度量名，空串按余弦处理，未知值直接报错
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return MetricCosine, nil
	case "euclidean", "l2":
		return MetricEuclidean, nil
	case "inner_product", "innerproduct", "ip":
		return MetricInnerProduct, nil
	default:
		return MetricCosine, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

func (m Metric) String() string {
	switch m {
	case MetricEuclidean:
		return "euclidean"
	case MetricInnerProduct:
		return "inner_product"
	default:
		return "cosine"
	}
}

// Operator 对应的 pgvector 运算符。<#> 返回负内积，
// 所以三个运算符统一按距离升序排序都是"越靠前越相似"。
func (m Metric) Operator() string {
	switch m {
	case MetricEuclidean:
		return "<->"
	case MetricInnerProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// Similarity 把运算符返回的距离换算成相似度分数：
// 余弦取 1-d，欧氏距离原样返回，内积取 -d 还原原始内积。
func (m Metric) Similarity(distance float64) float64 {
	switch m {
	case MetricEuclidean:
		return distance
	case MetricInnerProduct:
		return -distance
	default:
		return 1 - distance
	}
}

// Neighbor 近邻查询结果
type Neighbor struct {
	MovieID  int64   `json:"movie_id"`
	Distance float64 `json:"distance"`
}

type EmbeddingRepository struct {
	db *gorm.DB
}

func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// MissingMovieIDs 还没有向量的电影内部 ID，升序；limit<=0 表示不限量
func (r *EmbeddingRepository) MissingMovieIDs(limit int) ([]int64, error) {
	var ids []int64
	q := r.db.Model(&model.Movie{}).
		Joins("LEFT JOIN movie_embeddings e ON e.movie_id = movies.id").
		Where("e.movie_id IS NULL").
		Order("movies.id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("movies.id", &ids).Error; err != nil {
		return nil, fmt.Errorf("查询缺向量电影失败: %w", err)
	}
	return ids, nil
}

// AllMovieIDs 全部电影内部 ID，升序；force 重算时作为候选集
func (r *EmbeddingRepository) AllMovieIDs(limit int) ([]int64, error) {
	var ids []int64
	q := r.db.Model(&model.Movie{}).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("查询电影 ID 失败: %w", err)
	}
	return ids, nil
}

// ExistingMovieIDs 候选集中已有向量的子集，一次往返
func (r *EmbeddingRepository) ExistingMovieIDs(movieIDs []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{}, len(movieIDs))
	if len(movieIDs) == 0 {
		return existing, nil
	}
	var found []int64
	err := r.db.Model(&model.MovieEmbedding{}).
		Where("movie_id = ANY(?)", pq.Array(movieIDs)).
		Pluck("movie_id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("批量查询已有向量失败: %w", err)
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// Save upsert：没有则插入，已有则覆盖（force 重算走同一条路径）
func (r *EmbeddingRepository) Save(movieID int64, vec pgvector.Vector) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`INSERT INTO movie_embeddings (movie_id, embedding) VALUES (?, ?)
			ON CONFLICT (movie_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
			movieID, vec).Error
		if err != nil {
			return fmt.Errorf("保存向量失败: %w", err)
		}
		return nil
	})
}

// Count 已有向量的电影数
func (r *EmbeddingRepository) Count() (int64, error) {
	var n int64
	if err := r.db.Model(&model.MovieEmbedding{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("统计向量数失败: %w", err)
	}
	return n, nil
}

// NearestNeighbors 与指定电影最相似的 limit 部电影，不含其自身；
// 该电影没有向量时返回空结果而不是错误。
func (r *EmbeddingRepository) NearestNeighbors(movieID int64, metric Metric, limit int) ([]Neighbor, error) {
	var src model.MovieEmbedding
	err := r.db.Where("movie_id = ?", movieID).First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取查询电影向量失败: %w", err)
	}
	return r.NearestByVector(src.Embedding, metric, limit, movieID)
}

// NearestByVector 与给定向量最相似的电影；excludeMovieID>0 时排除该电影。
// 运算符来自闭合枚举，拼接是安全的。
func (r *EmbeddingRepository) NearestByVector(vec pgvector.Vector, metric Metric, limit int, excludeMovieID int64) ([]Neighbor, error) {
	sql := fmt.Sprintf("SELECT movie_id, embedding %s ? AS distance FROM movie_embeddings", metric.Operator())
	args := []interface{}{vec}
	if excludeMovieID > 0 {
		sql += " WHERE movie_id <> ?"
		args = append(args, excludeMovieID)
	}
	sql += " ORDER BY distance LIMIT ?"
	args = append(args, limit)

	var neighbors []Neighbor
	if err := r.db.Raw(sql, args...).Scan(&neighbors).Error; err != nil {
		return nil, fmt.Errorf("近邻查询失败: %w", err)
	}
	return neighbors, nil
}
