package repository

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/movievec/internal/model"
)

// InitDB 初始化数据库连接池
func InitDB(databaseURL string, poolSize, overflow int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true, // 唯一约束冲突翻译为 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接失败: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 连接池：常驻 poolSize，高峰最多 poolSize+overflow
	sqlDB.SetMaxIdleConns(poolSize)
	sqlDB.SetMaxOpenConns(poolSize + overflow)

	// 角色名挂在关联表上，必须在任何关联操作前注册
	if err := db.SetupJoinTable(&model.Movie{}, "Casts", &model.MovieCast{}); err != nil {
		return nil, fmt.Errorf("注册 movie_casts 关联表失败: %w", err)
	}

	return db, nil
}

// Migrate 创建 pgvector 扩展、全部数据表和索引
func Migrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("创建 vector 扩展失败: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Movie{},
		&model.Genre{},
		&model.Cast{},
		&model.Torrent{},
		&model.MovieEmbedding{},
	); err != nil {
		return fmt.Errorf("自动迁移失败: %w", err)
	}

	// 标题+简介的全文检索列，生成列随行自动维护
	if err := db.Exec(`ALTER TABLE movies ADD COLUMN IF NOT EXISTS search_vector tsvector
		GENERATED ALWAYS AS (to_tsvector('english', coalesce(title, '') || ' ' || coalesce(description_full, ''))) STORED`).Error; err != nil {
		return fmt.Errorf("创建全文检索列失败: %w", err)
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_movies_search_vector
		ON movies USING GIN (search_vector)`).Error; err != nil {
		return fmt.Errorf("创建全文检索索引失败: %w", err)
	}

	// 近邻检索索引，ivfflat 余弦，100 个聚类中心对几十万行规模够用
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_movie_embeddings_vector
		ON movie_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`).Error; err != nil {
		return fmt.Errorf("创建向量索引失败: %w", err)
	}

	log.Println("[数据库] 迁移完成")
	return nil
}

// Repositories 仓库集合
type Repositories struct {
	DB        *gorm.DB
	Movie     *MovieRepository
	Embedding *EmbeddingRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:        db,
		Movie:     NewMovieRepository(db),
		Embedding: NewEmbeddingRepository(db),
	}
}
