package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/user/movievec/internal/config"
	"github.com/user/movievec/internal/model"
)

// 拼出来的文本短于这个长度就没有嵌入价值，直接判失败
const minEmbeddingTextLen = 10

// MovieLoader 向量回填对电影读取的依赖
type MovieLoader interface {
	FindBatchForEmbedding(ids []int64) ([]model.Movie, error)
}

// EmbeddingStore 向量回填对向量持久层的依赖
type EmbeddingStore interface {
	AllMovieIDs(limit int) ([]int64, error)
	ExistingMovieIDs(movieIDs []int64) (map[int64]struct{}, error)
	Save(movieID int64, vec pgvector.Vector) error
}

// TextEmbedder 向量回填对嵌入客户端的依赖
type TextEmbedder interface {
	EmbedMany(ctx context.Context, texts []string, maxConcurrent int) []EmbedResult
}

// BackfillOptions 单次回填运行的参数，零值表示用配置默认
type BackfillOptions struct {
	Force         bool // 已有向量的也重新生成
	Limit         int  // 只处理前 N 部候选，0 表示全部
	BatchSize     int
	MaxConcurrent int
}

// BackfillService 向量回填流水线：
// 列出候选电影 → 过滤已有向量的（force 模式除外，过滤发生在任何嵌入请求之前）
// → 分批加载元数据、拼文本、并发嵌入、逐条落库。
type BackfillService struct {
	movies MovieLoader
	store  EmbeddingStore
	embed  TextEmbedder
	cfg    *config.Config

	Progress *model.Progress
}

func NewBackfillService(movies MovieLoader, store EmbeddingStore, embed TextEmbedder, cfg *config.Config) *BackfillService {
	return &BackfillService{
		movies:   movies,
		store:    store,
		embed:    embed,
		cfg:      cfg,
		Progress: &model.Progress{},
	}
}

// Run 执行一次完整回填。文本不足、嵌入失败、落库失败都折叠为单条的
// failed 计数；只有建立阶段的数据库错误让整个运行失败。
func (s *BackfillService) Run(ctx context.Context, opts BackfillOptions) (*Report, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.EmbeddingBatchSize
	}
	maxConc := opts.MaxConcurrent
	if maxConc <= 0 {
		maxConc = s.cfg.EmbeddingMaxConc
	}

	log.Println("[向量] ============================================")
	log.Println("[向量] 电影向量回填开始")
	log.Printf("[向量] Ollama: %s 模型: %s 维度: %d", s.cfg.OllamaHost, s.cfg.EmbeddingModel, s.cfg.EmbeddingDimension)

	candidates, err := s.store.AllMovieIDs(opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("加载候选电影失败: %w", err)
	}

	report := &Report{Total: int64(len(candidates))}
	s.Progress.Reset(report.Total)

	work := candidates
	if opts.Force {
		log.Printf("[向量] 强制模式：重新生成全部 %d 部的向量", len(candidates))
	} else {
		existing, err := s.store.ExistingMovieIDs(candidates)
		if err != nil {
			return nil, fmt.Errorf("过滤已有向量的电影失败: %w", err)
		}
		work = make([]int64, 0, len(candidates))
		for _, id := range candidates {
			if _, ok := existing[id]; ok {
				report.Skipped++
			} else {
				work = append(work, id)
			}
		}
		s.Progress.AddSkippedN(report.Skipped)
		log.Printf("[向量] 候选 %d 部，已有向量 %d 部，待生成 %d 部", len(candidates), report.Skipped, len(work))
	}

	if len(work) == 0 {
		report.Elapsed = time.Since(start)
		log.Println("[向量] 所有电影都已有向量")
		s.logReport(report)
		return report, nil
	}

	batches := chunkIDs(work, batchSize)
	log.Printf("[向量] %d 个批次，批大小 %d，嵌入并发上限 %d", len(batches), batchSize, maxConc)

	for i, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		tally := s.processBatch(ctx, batch, maxConc)
		report.Success += tally.success
		report.Failed += tally.failed
		log.Printf("[向量] 批次 %d/%d 完成: 成功 %d 失败 %d", i+1, len(batches), tally.success, tally.failed)
	}

	report.Elapsed = time.Since(start)
	s.logReport(report)

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// processBatch 加载一批电影，拼接文本并发嵌入，逐条落库。
// 每部电影恰好落进 success/failed 之一。
func (s *BackfillService) processBatch(ctx context.Context, ids []int64, maxConc int) batchTally {
	var tally batchTally

	movies, err := s.movies.FindBatchForEmbedding(ids)
	if err != nil {
		log.Printf("[向量] 批次加载失败: %v", err)
		for range ids {
			tally.failed++
			s.Progress.AddFailed()
		}
		return tally
	}

	// 拼文本，内容太少的直接判失败，不浪费嵌入请求
	loaded := make(map[int64]struct{}, len(movies))
	texts := make([]string, 0, len(movies))
	targets := make([]int64, 0, len(movies))
	for i := range movies {
		m := &movies[i]
		loaded[m.ID] = struct{}{}
		text := BuildEmbeddingText(m)
		if len(strings.TrimSpace(text)) < minEmbeddingTextLen {
			log.Printf("[向量] 电影 %d 文本内容不足，无法生成向量", m.ID)
			tally.failed++
			s.Progress.AddFailed()
			continue
		}
		texts = append(texts, text)
		targets = append(targets, m.ID)
	}

	// 清单里有但库里已经查不到的电影
	for _, id := range ids {
		if _, ok := loaded[id]; !ok {
			log.Printf("[向量] 电影 %d 不存在", id)
			tally.failed++
			s.Progress.AddFailed()
		}
	}

	if len(texts) == 0 {
		return tally
	}

	for _, res := range s.embed.EmbedMany(ctx, texts, maxConc) {
		movieID := targets[res.Index]
		if res.Err != nil {
			log.Printf("[向量] 电影 %d 嵌入失败: %v", movieID, res.Err)
			tally.failed++
			s.Progress.AddFailed()
			continue
		}
		if err := s.store.Save(movieID, res.Vector); err != nil {
			log.Printf("[向量] 电影 %d 向量落库失败: %v", movieID, err)
			tally.failed++
			s.Progress.AddFailed()
			continue
		}
		tally.success++
		s.Progress.AddSuccess()
	}
	return tally
}

func (s *BackfillService) logReport(r *Report) {
	log.Println("[向量] ============================================")
	log.Println("[向量] 电影向量回填完成")
	log.Printf("[向量] 总计: %d", r.Total)
	log.Printf("[向量] 成功生成: %d", r.Success)
	log.Printf("[向量] 跳过(已有向量): %d", r.Skipped)
	log.Printf("[向量] 失败: %d", r.Failed)
	log.Printf("[向量] 耗时: %s 平均速度: %.2f 条/秒", r.Elapsed.Round(time.Millisecond), r.Throughput())
	log.Println("[向量] ============================================")
}

// BuildEmbeddingText 把电影元数据拼成送入嵌入模型的文本。
// 字段缺失就整段省略，顺序固定：标题、年份、类型、简介、主演、语言、评分。
func BuildEmbeddingText(m *model.Movie) string {
	var parts []string
	if m.Title != "" {
		parts = append(parts, "Title: "+m.Title)
	}
	if m.Year > 0 {
		parts = append(parts, "Year: "+strconv.Itoa(m.Year))
	}
	if len(m.Genres) > 0 {
		names := make([]string, len(m.Genres))
		for i, g := range m.Genres {
			names[i] = g.Name
		}
		parts = append(parts, "Genres: "+strings.Join(names, ", "))
	}
	// 长简介优先，没有再退回短简介
	switch {
	case m.DescriptionFull != "":
		parts = append(parts, "Description: "+m.DescriptionFull)
	case m.DescriptionIntro != "":
		parts = append(parts, "Description: "+m.DescriptionIntro)
	}
	if len(m.Casts) > 0 {
		top := m.Casts
		if len(top) > 5 {
			top = top[:5]
		}
		names := make([]string, len(top))
		for i, c := range top {
			names[i] = c.Name
		}
		parts = append(parts, "Cast: "+strings.Join(names, ", "))
	}
	if m.Language != "" {
		parts = append(parts, "Language: "+m.Language)
	}
	if m.Rating > 0 {
		parts = append(parts, fmt.Sprintf("Rating: %.1f/10", m.Rating))
	}
	return strings.Join(parts, " | ")
}
