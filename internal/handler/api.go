package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/user/movievec/internal/repository"
	"github.com/user/movievec/internal/service"
	"github.com/user/movievec/internal/utils"
)

// ==================== 健康检查 ====================

// Health 服务健康状态：数据库连通性 + 向量覆盖率
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.Repos.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		utils.ServiceUnavailable(c, "数据库不可用")
		return
	}

	movies, _ := h.Repos.Movie.Count()
	embeddings, _ := h.Repos.Embedding.Count()
	coverage := 0.0
	if movies > 0 {
		coverage = float64(embeddings) / float64(movies)
	}

	utils.Success(c, gin.H{
		"status":             "healthy",
		"database":           "connected",
		"movies":             movies,
		"embeddings":         embeddings,
		"embedding_coverage": coverage,
	})
}

// ==================== 电影查询 ====================

// GetMovie 按内部 ID 查电影详情
func (h *Handler) GetMovie(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		utils.BadRequest(c, "无效的电影 ID")
		return
	}

	movie, err := h.Recommend.MovieByID(id)
	if errors.Is(err, service.ErrNotFound) {
		utils.NotFound(c, "电影不存在")
		return
	}
	if err != nil {
		utils.InternalServerError(c, "查询失败")
		return
	}
	utils.Success(c, movie)
}

// GetMovieByExternalID 按上游目录 ID 查电影详情
func (h *Handler) GetMovieByExternalID(c *gin.Context) {
	externalID, err := strconv.ParseInt(c.Param("movieID"), 10, 64)
	if err != nil || externalID <= 0 {
		utils.BadRequest(c, "无效的电影 ID")
		return
	}

	movie, err := h.Recommend.MovieByExternalID(externalID)
	if errors.Is(err, service.ErrNotFound) {
		utils.NotFound(c, "电影不存在")
		return
	}
	if err != nil {
		utils.InternalServerError(c, "查询失败")
		return
	}
	utils.Success(c, movie)
}

type searchQuery struct {
	Q     string `form:"q" binding:"required"`
	Limit int    `form:"limit,default=10" binding:"min=1,max=100"`
}

// SearchMovies 标题+简介全文检索
func (h *Handler) SearchMovies(c *gin.Context) {
	var req searchQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "查询参数不合法")
		return
	}

	movies, err := h.Recommend.Search(req.Q, req.Limit)
	if err != nil {
		utils.InternalServerError(c, "检索失败")
		return
	}
	utils.Success(c, gin.H{
		"total":  len(movies),
		"query":  req.Q,
		"movies": movies,
	})
}

// ==================== 相似推荐 ====================

type similarQuery struct {
	Metric string `form:"metric,default=cosine" binding:"metric"`
	Limit  int    `form:"limit,default=10" binding:"min=1,max=100"`
}

// GetSimilarMovies 与指定电影最相似的电影。
// 电影不存在返回 404；电影存在但还没有向量返回空列表。
func (h *Handler) GetSimilarMovies(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		utils.BadRequest(c, "无效的电影 ID")
		return
	}
	var req similarQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "无效的距离度量或条数")
		return
	}
	metric, _ := repository.ParseMetric(req.Metric)

	movie, recs, err := h.Recommend.SimilarByID(id, metric, req.Limit)
	if errors.Is(err, service.ErrNotFound) {
		utils.NotFound(c, "电影不存在")
		return
	}
	if err != nil {
		utils.InternalServerError(c, "推荐查询失败")
		return
	}
	utils.Success(c, gin.H{
		"movie_id": movie.ID,
		"title":    movie.Title,
		"metric":   metric.String(),
		"total":    len(recs),
		"movies":   recs,
	})
}

type byTextRequest struct {
	Text   string `json:"text" binding:"required"`
	Metric string `json:"metric" binding:"omitempty,metric"`
	Limit  int    `json:"limit" binding:"omitempty,min=1,max=100"`
}

// RecommendByText 按自由文本找相似电影
func (h *Handler) RecommendByText(c *gin.Context) {
	var req byTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "请求体不合法")
		return
	}
	metric, _ := repository.ParseMetric(req.Metric)

	recs, err := h.Recommend.SimilarByText(c.Request.Context(), req.Text, metric, req.Limit)
	if errors.Is(err, service.ErrEmbedderUnavailable) {
		utils.ServiceUnavailable(c, "嵌入服务不可用，文本推荐暂不可用")
		return
	}
	if err != nil {
		utils.InternalServerError(c, "推荐查询失败")
		return
	}
	utils.Success(c, gin.H{
		"text":   req.Text,
		"metric": metric.String(),
		"total":  len(recs),
		"movies": recs,
	})
}

// ==================== 榜单与筛选 ====================

type genreQuery struct {
	MinRating float64 `form:"min_rating,default=6" binding:"min=0,max=10"`
	Limit     int     `form:"limit,default=10" binding:"min=1,max=100"`
}

// GetMoviesByGenre 按类型筛选，带最低评分门槛
func (h *Handler) GetMoviesByGenre(c *gin.Context) {
	genre := c.Param("genre")
	if genre == "" {
		utils.BadRequest(c, "类型不能为空")
		return
	}
	var req genreQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "查询参数不合法")
		return
	}

	movies, err := h.Recommend.ByGenres([]string{genre}, req.MinRating, req.Limit)
	if err != nil {
		utils.InternalServerError(c, "查询失败")
		return
	}
	utils.Success(c, gin.H{
		"total":  len(movies),
		"genre":  genre,
		"movies": movies,
	})
}

type trendingQuery struct {
	MinYear int `form:"min_year,default=2020" binding:"min=1900,max=2030"`
	Limit   int `form:"limit,default=20" binding:"min=1,max=100"`
}

// GetTrendingMovies 近年热门榜
func (h *Handler) GetTrendingMovies(c *gin.Context) {
	var req trendingQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "查询参数不合法")
		return
	}

	movies, err := h.Recommend.Trending(req.MinYear, req.Limit)
	if err != nil {
		utils.InternalServerError(c, "查询失败")
		return
	}
	utils.Success(c, gin.H{
		"total":  len(movies),
		"movies": movies,
	})
}

type topRatedQuery struct {
	MinVotes int `form:"min_votes,default=100" binding:"min=0"`
	Limit    int `form:"limit,default=20" binding:"min=1,max=100"`
}

// GetTopRatedMovies 高分榜
func (h *Handler) GetTopRatedMovies(c *gin.Context) {
	var req topRatedQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "查询参数不合法")
		return
	}

	movies, err := h.Recommend.TopRated(req.MinVotes, req.Limit)
	if err != nil {
		utils.InternalServerError(c, "查询失败")
		return
	}
	utils.Success(c, gin.H{
		"total":  len(movies),
		"movies": movies,
	})
}

type yearRangeQuery struct {
	From  int `form:"from" binding:"required,min=1900,max=2100"`
	To    int `form:"to" binding:"required,min=1900,max=2100,gtefield=From"`
	Limit int `form:"limit,default=10" binding:"min=1,max=100"`
}

// GetMoviesByYear 年份区间查询（闭区间）
func (h *Handler) GetMoviesByYear(c *gin.Context) {
	var req yearRangeQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "年份区间不合法")
		return
	}

	movies, err := h.Recommend.ByYearRange(req.From, req.To, req.Limit)
	if err != nil {
		utils.InternalServerError(c, "查询失败")
		return
	}
	utils.Success(c, gin.H{
		"total":  len(movies),
		"from":   req.From,
		"to":     req.To,
		"movies": movies,
	})
}

// ==================== 统计 ====================

// GetStats 数据库统计：各表行数、向量覆盖率、评分与年份聚合
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.Recommend.Stats()
	if err != nil {
		utils.InternalServerError(c, "统计查询失败")
		return
	}
	utils.Success(c, stats)
}
