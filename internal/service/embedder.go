package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/semaphore"

	"github.com/user/movievec/internal/config"
	"github.com/user/movievec/internal/utils"
)

// Embedder Ollama 嵌入服务客户端。
// 构造时探活：服务不可达或模型未安装都是启动级错误，
// 由调用方决定是否终止；之后单条嵌入失败只按条目计数，不中断批次。
type Embedder struct {
	host      string
	model     string
	timeout   time.Duration
	dimension int

	maxRetries int           // 超时后最多再试几次
	retryPause time.Duration // 两次尝试之间的停顿

	client *http.Client
}

// EmbedResult 批量嵌入的单条结果，Index 对应入参下标
type EmbedResult struct {
	Index  int
	Vector pgvector.Vector
	Err    error
}

// NewEmbedder 创建嵌入客户端并探活。
// 探活失败返回错误，调用方在任何批次开始前终止。
func NewEmbedder(cfg *config.Config) (*Embedder, error) {
	e := &Embedder{
		host:       strings.TrimRight(cfg.OllamaHost, "/"),
		model:      cfg.EmbeddingModel,
		timeout:    cfg.OllamaTimeout,
		dimension:  cfg.EmbeddingDimension,
		maxRetries: 2,
		retryPause: time.Second,
		// 超时按次控制在 ctx 上，这里不再给 http.Client 设全局超时
		client: &http.Client{},
	}

	if err := e.probe(); err != nil {
		return nil, err
	}
	return e, nil
}

// probe 确认 Ollama 可达且配置的模型已安装
func (e *Embedder) probe() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	names, err := utils.ListModels(ctx, e.client, e.host)
	if err != nil {
		return fmt.Errorf("无法连接 Ollama (%s): %w", e.host, err)
	}

	for _, name := range names {
		if strings.Contains(name, e.model) {
			log.Printf("[嵌入] Ollama 就绪: %s 模型=%s", e.host, e.model)
			return nil
		}
	}
	return fmt.Errorf("Ollama 未安装模型 %q（已安装: %s），先执行: ollama pull %s",
		e.model, strings.Join(names, ", "), e.model)
}

// Model 当前使用的模型名
func (e *Embedder) Model() string { return e.model }

// Dimension 向量维度
func (e *Embedder) Dimension() int { return e.dimension }

// Embed 为一段文本生成向量。
// 超时按线性放大的单次时限重试（base、2×base、3×base），
// 两次尝试之间停顿 retryPause；非超时错误不重试。
func (e *Embedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout*time.Duration(attempt+1))
		vec, err := utils.GenerateEmbedding(attemptCtx, e.client, e.host, e.model, text)
		cancel()

		if err == nil {
			if len(vec) == 0 {
				return pgvector.Vector{}, ErrEmptyEmbedding
			}
			if len(vec) != e.dimension {
				return pgvector.Vector{}, fmt.Errorf("向量维度不符: 期望 %d 实际 %d", e.dimension, len(vec))
			}
			if attempt > 0 {
				log.Printf("[嵌入] 第 %d 次重试成功", attempt)
			}
			return pgvector.NewVector(vec), nil
		}

		lastErr = err
		if !isTimeout(err) || ctx.Err() != nil {
			break
		}
		if attempt < e.maxRetries {
			log.Printf("[嵌入] 请求超时，第 %d/%d 次重试", attempt+1, e.maxRetries)
			select {
			case <-time.After(e.retryPause):
			case <-ctx.Done():
				return pgvector.Vector{}, ctx.Err()
			}
		}
	}
	return pgvector.Vector{}, fmt.Errorf("生成向量失败: %w", lastErr)
}

// EmbedMany 并发为一批文本生成向量，同时在途的请求数不超过 maxConcurrent，
// 与排队条数无关。单条失败不影响其它条目，结果按入参下标一一对应。
func (e *Embedder) EmbedMany(ctx context.Context, texts []string, maxConcurrent int) []EmbedResult {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	results := make([]EmbedResult, len(texts))
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var wg sync.WaitGroup

	for i, text := range texts {
		wg.Add(1)
		go func(idx int, t string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = EmbedResult{Index: idx, Err: err}
				return
			}
			defer sem.Release(1)
			vec, err := e.Embed(ctx, t)
			results[idx] = EmbedResult{Index: idx, Vector: vec, Err: err}
		}(i, text)
	}
	wg.Wait()
	return results
}
