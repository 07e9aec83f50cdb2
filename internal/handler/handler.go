package handler

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/user/movievec/internal/config"
	"github.com/user/movievec/internal/repository"
	"github.com/user/movievec/internal/service"
)

// Handler HTTP 处理器
type Handler struct {
	Repos     *repository.Repositories
	Config    *config.Config
	Recommend *service.RecommendService
}

// NewHandler 创建处理器。
// embedder 为 nil 时文本推荐接口返回 503，其余接口不受影响。
func NewHandler(repos *repository.Repositories, cfg *config.Config, embedder service.VectorEmbedder) *Handler {
	return &Handler{
		Repos:     repos,
		Config:    cfg,
		Recommend: service.NewRecommendService(repos.Movie, repos.Embedding, embedder),
	}
}

// 把距离度量注册成 binding 校验规则，未知的度量名在参数校验阶段就被拒绝
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("metric", func(fl validator.FieldLevel) bool {
			_, err := repository.ParseMetric(fl.Field().String())
			return err == nil
		})
	}
}
