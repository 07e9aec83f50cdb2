package service

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/movievec/internal/config"
	"github.com/user/movievec/internal/model"
	"github.com/user/movievec/internal/repository"
)

// CatalogAPI 抓取流水线对目录客户端的依赖
type CatalogAPI interface {
	ListPage(ctx context.Context, page, pageSize int) ([]int64, int, error)
	FetchDetail(ctx context.Context, externalID int64) (*model.Movie, error)
}

// MovieStore 抓取流水线对持久层的依赖
type MovieStore interface {
	ExistingIDs(externalIDs []int64) (map[int64]struct{}, error)
	Save(movie *model.Movie) repository.SaveResult
}

// Report 一次流水线运行的最终清点。
// 正常跑完时不论 worker 数和批次怎么切，Success+Skipped+Failed 恒等于 Total；
// 中途取消的运行返回部分计数并附带 ctx 错误。
type Report struct {
	Total   int64
	Success int64
	Skipped int64
	Failed  int64
	Elapsed time.Duration
}

// Throughput 每秒实际处理条数（预过滤跳过的不计入）
func (r *Report) Throughput() float64 {
	sec := r.Elapsed.Seconds()
	attempted := r.Success + r.Failed
	if sec <= 0 {
		return 0
	}
	return float64(attempted) / sec
}

// IngestOptions 单次抓取运行的参数，零值表示用配置默认
type IngestOptions struct {
	MaxPages  int // 只收集前 N 个列表页，0 表示全部
	BatchSize int
	Workers   int
}

// IngestService 批量抓取流水线：
// 收集全量外部 ID → 一次批量过滤已入库 ID → worker 池抓详情并入库 → 汇总清点。
// 运行期进度写入 Progress，供监控协程随时读取。
type IngestService struct {
	catalog CatalogAPI
	store   MovieStore
	cfg     *config.Config

	Progress *model.Progress
}

func NewIngestService(catalog CatalogAPI, store MovieStore, cfg *config.Config) *IngestService {
	return &IngestService{
		catalog:  catalog,
		store:    store,
		cfg:      cfg,
		Progress: &model.Progress{},
	}
}

// batchTally worker 完成一个批次后上报的计数
type batchTally struct {
	success int64
	failed  int64
	skipped int64
}

// Run 执行一次完整抓取。单条失败只计数不中断；
// 只有建立阶段的错误（第一个列表页不可达、数据库查询失败）让整个运行失败。
// ctx 取消后 worker 在条目边界尽快退出，已产生的计数仍会汇总。
func (s *IngestService) Run(ctx context.Context, opts IngestOptions) (*Report, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.FetchBatchSize
	}

	log.Println("[抓取] ============================================")
	log.Println("[抓取] YTS 电影抓取开始")

	// 1. 收集全量外部 ID
	ids, err := s.collectIDs(ctx, opts.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("收集电影 ID 失败: %w", err)
	}
	if len(ids) == 0 {
		log.Println("[抓取] 没有收集到任何电影 ID，直接结束")
		s.Progress.Reset(0)
		return &Report{Elapsed: time.Since(start)}, nil
	}
	log.Printf("[抓取] 共收集到 %d 个电影 ID", len(ids))

	// 2. 一次往返过滤掉已入库的 ID
	existing, err := s.store.ExistingIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("过滤已入库电影失败: %w", err)
	}
	workList := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			workList = append(workList, id)
		}
	}

	total := int64(len(ids))
	preSkipped := total - int64(len(workList))
	s.Progress.Reset(total)
	s.Progress.AddSkippedN(preSkipped)
	log.Printf("[抓取] 已入库 %d 部，待抓取 %d 部", preSkipped, len(workList))

	if len(workList) == 0 {
		report := &Report{Total: total, Skipped: preSkipped, Elapsed: time.Since(start)}
		s.logReport(report)
		return report, nil
	}

	// 3. 分批派发给固定大小的 worker 池
	batches := chunkIDs(workList, batchSize)
	workers := s.workerCount(opts.Workers, len(batches))
	log.Printf("[抓取] %d 个批次，%d 个 worker", len(batches), workers)

	batchCh := make(chan []int64)
	tallyCh := make(chan batchTally, len(batches))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				tallyCh <- s.processBatch(ctx, batch)
			}
		}()
	}

	go func() {
		defer close(batchCh)
		for _, batch := range batches {
			select {
			case batchCh <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	// 4. 汇总：等全部批次结束，把每批计数相加得到最终报告
	wg.Wait()
	close(tallyCh)

	report := &Report{Total: total, Skipped: preSkipped}
	for t := range tallyCh {
		report.Success += t.success
		report.Failed += t.failed
		report.Skipped += t.skipped
	}
	report.Elapsed = time.Since(start)
	s.logReport(report)

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// collectIDs 并发拉取全部列表页，合并去重后返回升序 ID 列表。
// 总页数由第一页报告的总数推出，列表页并发数有上限；
// 第一页失败是建立阶段错误直接返回，后续单页失败只丢这一页的 ID。
func (s *IngestService) collectIDs(ctx context.Context, maxPages int) ([]int64, error) {
	pageSize := s.cfg.FetchBatchSize
	firstIDs, total, err := s.catalog.ListPage(ctx, 1, pageSize)
	if err != nil {
		return nil, err
	}

	pages := (total + pageSize - 1) / pageSize
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}
	if pages < 1 {
		pages = 1
	}
	log.Printf("[抓取] 目录共 %d 部电影，%d 个列表页", total, pages)

	pageIDs := make([][]int64, pages+1)
	pageIDs[1] = firstIDs

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PageParallelism)
	for page := 2; page <= pages; page++ {
		page := page // go 1.21: capture per-iteration copy for the goroutine
		g.Go(func() error {
			ids, _, err := s.catalog.ListPage(gctx, page, pageSize)
			if err != nil {
				log.Printf("[抓取] 列表页 %d 获取失败: %v", page, err)
				return nil
			}
			pageIDs[page] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	all := make([]int64, 0, total)
	for _, ids := range pageIDs {
		for _, id := range ids {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				all = append(all, id)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all, nil
}

// processBatch 依次处理一个批次：抓详情、入库、限速。
// 单条的网络或持久化失败折叠为 failed 计数，绝不向上抛；
// 每条结果恰好落进 success/skipped/failed 之一。
func (s *IngestService) processBatch(ctx context.Context, batch []int64) batchTally {
	var tally batchTally
	for _, id := range batch {
		if ctx.Err() != nil {
			return tally
		}

		movie, err := s.catalog.FetchDetail(ctx, id)
		if err != nil {
			tally.failed++
			s.Progress.AddFailed()
			log.Printf("[抓取] 电影 %d 抓取失败: %v", id, err)
		} else {
			switch res := s.store.Save(movie); res.Status {
			case repository.SaveCreated:
				tally.success++
				s.Progress.AddSuccess()
			case repository.SaveAlreadyExists:
				tally.skipped++
				s.Progress.AddSkipped()
			default:
				tally.failed++
				s.Progress.AddFailed()
				log.Printf("[抓取] 电影 %d 入库失败: %s", id, res.Message)
			}
		}

		// 同一 worker 相邻两次详情请求之间限速
		select {
		case <-time.After(s.cfg.RequestDelay):
		case <-ctx.Done():
			return tally
		}
	}
	return tally
}

// workerCount 未指定时取 2×CPU，且不超过批次数
func (s *IngestService) workerCount(requested, batches int) int {
	w := requested
	if w <= 0 {
		w = s.cfg.MaxWorkers
	}
	if w <= 0 {
		w = runtime.GOMAXPROCS(0) * 2
	}
	if w > batches {
		w = batches
	}
	if w < 1 {
		w = 1
	}
	return w
}

// chunkIDs 把 ID 列表切成固定大小的批次
func chunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(ids)
	}
	var batches [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

func (s *IngestService) logReport(r *Report) {
	log.Println("[抓取] ============================================")
	log.Println("[抓取] YTS 电影抓取完成")
	log.Printf("[抓取] 总计: %d", r.Total)
	log.Printf("[抓取] 成功入库: %d", r.Success)
	log.Printf("[抓取] 跳过(已存在): %d", r.Skipped)
	log.Printf("[抓取] 失败: %d", r.Failed)
	log.Printf("[抓取] 耗时: %s 平均速度: %.2f 部/秒", r.Elapsed.Round(time.Millisecond), r.Throughput())
	log.Println("[抓取] ============================================")
}
