package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/movievec/internal/model"
)

// SaveStatus 保存结果状态
type SaveStatus string

const (
	SaveCreated       SaveStatus = "created"
	SaveAlreadyExists SaveStatus = "already_exists"
	SaveFailed        SaveStatus = "failed"
)

// SaveResult 保存结果。Save 不向流水线抛错，
// 持久化失败折叠为 SaveFailed + Message，由调用方计数。
type SaveResult struct {
	Status  SaveStatus
	MovieID int64 // created/already_exists 时为内部 ID
	Message string
}

// errDuplicateMovie 事务内撞上唯一约束时的信号，触发回滚后按 already_exists 处理
var errDuplicateMovie = errors.New("电影已存在")

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// Exists 外部 ID 是否已入库
func (r *MovieRepository) Exists(externalID int64) (bool, error) {
	var n int64
	if err := r.db.Model(&model.Movie{}).Where("external_id = ?", externalID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("查询电影是否存在失败: %w", err)
	}
	return n > 0, nil
}

// ExistingIDs 批量存在性检查，一次往返。
// 抓取前对几十万个候选 ID 预过滤，避免逐个查询。
func (r *MovieRepository) ExistingIDs(externalIDs []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{}, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}
	var found []int64
	err := r.db.Model(&model.Movie{}).
		Where("external_id = ANY(?)", pq.Array(externalIDs)).
		Pluck("external_id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("批量查询已存在电影失败: %w", err)
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// Save 在一个事务里保存电影及其类型、演员、种子。
// 事务内先重查一次存在性，把"预检查与写入之间有并发写入"的竞态收敛为
// already_exists；重查之后仍撞上唯一约束的极端情况同样按 already_exists
// 处理。任一步失败整个事务回滚，不会留下半挂的关联行。
func (r *MovieRepository) Save(movie *model.Movie) SaveResult {
	var result SaveResult

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing model.Movie
		err := tx.Select("id").Where("external_id = ?", movie.ExternalID).First(&existing).Error
		if err == nil {
			result = SaveResult{Status: SaveAlreadyExists, MovieID: existing.ID, Message: "already_exists"}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("事务内重查失败: %w", err)
		}

		if err := tx.Omit(clause.Associations).Create(movie).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicateMovie
			}
			return fmt.Errorf("插入电影失败: %w", err)
		}

		if err := attachGenres(tx, movie); err != nil {
			return err
		}
		if err := attachCasts(tx, movie); err != nil {
			return err
		}
		if err := attachTorrents(tx, movie); err != nil {
			return err
		}

		result = SaveResult{Status: SaveCreated, MovieID: movie.ID, Message: "created"}
		return nil
	})

	if err != nil {
		if errors.Is(err, errDuplicateMovie) {
			res := SaveResult{Status: SaveAlreadyExists, Message: "already_exists"}
			var existing model.Movie
			if lookupErr := r.db.Select("id").Where("external_id = ?", movie.ExternalID).
				First(&existing).Error; lookupErr == nil {
				res.MovieID = existing.ID
			}
			return res
		}
		return SaveResult{Status: SaveFailed, Message: err.Error()}
	}
	return result
}

// attachGenres 按名称 get-or-create 类型并写入关联行
func attachGenres(tx *gorm.DB, movie *model.Movie) error {
	seen := make(map[string]struct{}, len(movie.Genres))
	for _, g := range movie.Genres {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		var genre model.Genre
		if err := tx.Where(model.Genre{Name: name}).FirstOrCreate(&genre).Error; err != nil {
			return fmt.Errorf("get-or-create 类型 %q 失败: %w", name, err)
		}
		if err := tx.Exec("INSERT INTO movie_genres (movie_id, genre_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
			movie.ID, genre.ID).Error; err != nil {
			return fmt.Errorf("写入电影-类型关联失败: %w", err)
		}
	}
	return nil
}

// attachCasts 按 (姓名, IMDb 编号) get-or-create 演员，角色名写到关联行
func attachCasts(tx *gorm.DB, movie *model.Movie) error {
	seen := make(map[string]struct{}, len(movie.Casts))
	for _, c := range movie.Casts {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		key := name + "\x00" + c.ImdbCode
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		var member model.Cast
		err := tx.Where(model.Cast{Name: name, ImdbCode: c.ImdbCode}).
			Attrs(model.Cast{URLSmallImage: c.URLSmallImage}).
			FirstOrCreate(&member).Error
		if err != nil {
			return fmt.Errorf("get-or-create 演员 %q 失败: %w", name, err)
		}
		if err := tx.Exec(`INSERT INTO movie_casts (movie_id, cast_id, character_name) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING`, movie.ID, member.ID, c.CharacterName).Error; err != nil {
			return fmt.Errorf("写入电影-演员关联失败: %w", err)
		}
	}
	return nil
}

func attachTorrents(tx *gorm.DB, movie *model.Movie) error {
	if len(movie.Torrents) == 0 {
		return nil
	}
	torrents := make([]model.Torrent, len(movie.Torrents))
	copy(torrents, movie.Torrents)
	for i := range torrents {
		torrents[i].ID = 0
		torrents[i].MovieID = movie.ID
	}
	if err := tx.Create(&torrents).Error; err != nil {
		return fmt.Errorf("写入种子失败: %w", err)
	}
	return nil
}

// FindByID 按内部 ID 查询，携带类型、演员、种子；未找到时返回 (nil, nil)
func (r *MovieRepository) FindByID(id int64) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.Preload("Genres").Preload("Casts").Preload("Torrents").
		First(&movie, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询电影失败: %w", err)
	}
	return &movie, nil
}

// FindByExternalID 按上游目录 ID 查询
func (r *MovieRepository) FindByExternalID(externalID int64) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.Preload("Genres").Preload("Casts").Preload("Torrents").
		Where("external_id = ?", externalID).First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询电影失败: %w", err)
	}
	return &movie, nil
}

// FindByIDs 批量按内部 ID 查询（携带类型），顺序由调用方自行恢复
func (r *MovieRepository) FindByIDs(ids []int64) ([]model.Movie, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var movies []model.Movie
	err := r.db.Preload("Genres").Where("id = ANY(?)", pq.Array(ids)).Find(&movies).Error
	if err != nil {
		return nil, fmt.Errorf("批量查询电影失败: %w", err)
	}
	return movies, nil
}

// FindBatchForEmbedding 批量加载电影及生成向量文本所需的关联（类型+演员）
func (r *MovieRepository) FindBatchForEmbedding(ids []int64) ([]model.Movie, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var movies []model.Movie
	err := r.db.Preload("Genres").Preload("Casts").
		Where("id = ANY(?)", pq.Array(ids)).
		Order("id").Find(&movies).Error
	if err != nil {
		return nil, fmt.Errorf("批量加载电影失败: %w", err)
	}
	return movies, nil
}

// Search 标题+简介全文检索，空查询返回空
func (r *MovieRepository) Search(query string, limit int) ([]model.Movie, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	var movies []model.Movie
	err := r.db.Preload("Genres").
		Where("search_vector @@ plainto_tsquery('english', ?)", q).
		Order("rating DESC").Limit(limit).Find(&movies).Error
	if err != nil {
		return nil, fmt.Errorf("全文检索失败: %w", err)
	}
	return movies, nil
}

// ByGenres 按类型过滤，带最低评分门槛
func (r *MovieRepository) ByGenres(genres []string, minRating float64, limit int) ([]model.Movie, error) {
	if len(genres) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(genres))
	for _, g := range genres {
		if g = strings.TrimSpace(g); g != "" {
			lowered = append(lowered, strings.ToLower(g))
		}
	}
	var movies []model.Movie
	err := r.db.Preload("Genres").
		Joins("JOIN movie_genres mg ON mg.movie_id = movies.id").
		Joins("JOIN genres g ON g.id = mg.genre_id").
		Where("LOWER(g.name) = ANY(?)", pq.Array(lowered)).
		Where("movies.rating >= ?", minRating).
		Distinct("movies.*").
		Order("movies.rating DESC").Limit(limit).
		Find(&movies).Error
	if err != nil {
		return nil, fmt.Errorf("按类型查询失败: %w", err)
	}
	return movies, nil
}

// Trending 近年的高热度电影：年份与评分双门槛，按点赞数、评分排序
func (r *MovieRepository) Trending(minYear int, limit int) ([]model.Movie, error) {
	var movies []model.Movie
	err := r.db.Preload("Genres").
		Where("year >= ? AND rating >= ?", minYear, 6.0).
		Order("like_count DESC, rating DESC").Limit(limit).
		Find(&movies).Error
	if err != nil {
		return nil, fmt.Errorf("查询热门电影失败: %w", err)
	}
	return movies, nil
}

// TopRated 高分榜：评分 >= 7.0 且点赞数达到门槛
func (r *MovieRepository) TopRated(minVotes int, limit int) ([]model.Movie, error) {
	var movies []model.Movie
	err := r.db.Preload("Genres").
		Where("rating >= ? AND like_count >= ?", 7.0, minVotes).
		Order("rating DESC").Limit(limit).
		Find(&movies).Error
	if err != nil {
		return nil, fmt.Errorf("查询高分电影失败: %w", err)
	}
	return movies, nil
}

// ByYearRange 年份区间（闭区间）
func (r *MovieRepository) ByYearRange(startYear, endYear, limit int) ([]model.Movie, error) {
	var movies []model.Movie
	err := r.db.Preload("Genres").
		Where("year >= ? AND year <= ?", startYear, endYear).
		Order("rating DESC").Limit(limit).
		Find(&movies).Error
	if err != nil {
		return nil, fmt.Errorf("按年份区间查询失败: %w", err)
	}
	return movies, nil
}

// Count 电影总数
func (r *MovieRepository) Count() (int64, error) {
	var n int64
	if err := r.db.Model(&model.Movie{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("统计电影数失败: %w", err)
	}
	return n, nil
}

// DBStats 数据库统计信息
type DBStats struct {
	Movies     int64   `json:"movies"`
	Genres     int64   `json:"genres"`
	Casts      int64   `json:"casts"`
	Torrents   int64   `json:"torrents"`
	Embeddings int64   `json:"embeddings"`
	Coverage   float64 `json:"embedding_coverage"` // 0~1
	AvgRating  float64 `json:"avg_rating"`
	MinYear    int     `json:"min_year"`
	MaxYear    int     `json:"max_year"`
}

// Stats 各表行数、向量覆盖率和评分/年份聚合
func (r *MovieRepository) Stats() (*DBStats, error) {
	var s DBStats
	counts := []struct {
		dst   *int64
		model interface{}
	}{
		{&s.Movies, &model.Movie{}},
		{&s.Genres, &model.Genre{}},
		{&s.Casts, &model.Cast{}},
		{&s.Torrents, &model.Torrent{}},
		{&s.Embeddings, &model.MovieEmbedding{}},
	}
	for _, c := range counts {
		if err := r.db.Model(c.model).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("统计行数失败: %w", err)
		}
	}
	if s.Movies > 0 {
		s.Coverage = float64(s.Embeddings) / float64(s.Movies)
	}

	var agg struct {
		AvgRating float64
		MinYear   int
		MaxYear   int
	}
	err := r.db.Raw(`SELECT COALESCE(AVG(rating), 0) AS avg_rating,
		COALESCE(MIN(year), 0) AS min_year, COALESCE(MAX(year), 0) AS max_year
		FROM movies WHERE year > 0`).Scan(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("统计评分/年份失败: %w", err)
	}
	s.AvgRating = agg.AvgRating
	s.MinYear = agg.MinYear
	s.MaxYear = agg.MaxYear
	return &s, nil
}
