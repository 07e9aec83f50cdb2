package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/movievec/internal/handler"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   "movievec 电影推荐 API",
			"health": "/api/health",
		})
	})

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)

		// ==================== 电影查询 ====================
		movies := api.Group("/movies")
		{
			movies.GET("/search", h.SearchMovies)
			movies.GET("/trending", h.GetTrendingMovies)
			movies.GET("/top-rated", h.GetTopRatedMovies)
			movies.GET("/year", h.GetMoviesByYear)
			movies.GET("/genre/:genre", h.GetMoviesByGenre)
			movies.GET("/external/:movieID", h.GetMovieByExternalID)
			movies.GET("/:id", h.GetMovie)
			movies.GET("/:id/similar", h.GetSimilarMovies)
		}

		// ==================== 推荐 ====================
		api.POST("/recommend/by-text", h.RecommendByText)

		// ==================== 统计 ====================
		api.GET("/stats", h.GetStats)
	}
}
