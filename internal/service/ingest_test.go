package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/movievec/internal/config"
	"github.com/user/movievec/internal/model"
	"github.com/user/movievec/internal/repository"
)

// fakeCatalog 用一个平铺的 ID 列表模拟目录 API 的分页
type fakeCatalog struct {
	mu        sync.Mutex
	ids       []int64
	failPages map[int]struct{}
	failIDs   map[int64]struct{}
	fetched   []int64
}

func (f *fakeCatalog) ListPage(_ context.Context, page, pageSize int) ([]int64, int, error) {
	if _, bad := f.failPages[page]; bad {
		return nil, 0, errors.New("列表页不可达")
	}
	start := (page - 1) * pageSize
	if start >= len(f.ids) {
		return nil, len(f.ids), nil
	}
	end := start + pageSize
	if end > len(f.ids) {
		end = len(f.ids)
	}
	return append([]int64(nil), f.ids[start:end]...), len(f.ids), nil
}

func (f *fakeCatalog) FetchDetail(_ context.Context, externalID int64) (*model.Movie, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, externalID)
	f.mu.Unlock()
	if _, bad := f.failIDs[externalID]; bad {
		return nil, errors.New("上游超时")
	}
	return &model.Movie{ExternalID: externalID, Title: fmt.Sprintf("Movie %d", externalID)}, nil
}

func (f *fakeCatalog) fetchedSet() map[int64]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[int64]struct{}, len(f.fetched))
	for _, id := range f.fetched {
		set[id] = struct{}{}
	}
	return set
}

// fakeMovieStore 以外部 ID 为键的内存库
type fakeMovieStore struct {
	mu       sync.Mutex
	existing map[int64]struct{}
	failIDs  map[int64]struct{}
	saved    []int64
}

func newFakeMovieStore(existing ...int64) *fakeMovieStore {
	s := &fakeMovieStore{existing: make(map[int64]struct{})}
	for _, id := range existing {
		s.existing[id] = struct{}{}
	}
	return s
}

func (f *fakeMovieStore) ExistingIDs(externalIDs []int64) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]struct{})
	for _, id := range externalIDs {
		if _, ok := f.existing[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeMovieStore) Save(movie *model.Movie) repository.SaveResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, bad := f.failIDs[movie.ExternalID]; bad {
		return repository.SaveResult{Status: repository.SaveFailed, Message: "插入失败"}
	}
	if _, ok := f.existing[movie.ExternalID]; ok {
		return repository.SaveResult{Status: repository.SaveAlreadyExists, MovieID: movie.ExternalID, Message: "already_exists"}
	}
	f.existing[movie.ExternalID] = struct{}{}
	f.saved = append(f.saved, movie.ExternalID)
	return repository.SaveResult{Status: repository.SaveCreated, MovieID: movie.ExternalID, Message: "created"}
}

func ingestTestConfig() *config.Config {
	return &config.Config{
		FetchBatchSize:  10,
		PageParallelism: 4,
		MaxWorkers:      2,
		RequestDelay:    0,
	}
}

func seqIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestIngestRunMixedResults(t *testing.T) {
	catalog := &fakeCatalog{
		ids:     seqIDs(25),
		failIDs: map[int64]struct{}{7: {}},
	}
	store := newFakeMovieStore(1, 2, 3, 4, 5)
	store.failIDs = map[int64]struct{}{8: {}}
	svc := NewIngestService(catalog, store, ingestTestConfig())

	report, err := svc.Run(context.Background(), IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(25), report.Total)
	assert.Equal(t, int64(5), report.Skipped)
	assert.Equal(t, int64(2), report.Failed) // 抓取失败的 7 + 入库失败的 8
	assert.Equal(t, int64(18), report.Success)
	assert.Equal(t, report.Total, report.Success+report.Skipped+report.Failed)

	// 已入库的 ID 在预过滤阶段就被挡掉，不该打到上游
	fetched := catalog.fetchedSet()
	for id := int64(1); id <= 5; id++ {
		assert.NotContains(t, fetched, id)
	}
	assert.Len(t, store.saved, 18)

	snap := svc.Progress.Snapshot()
	assert.Equal(t, int64(25), snap.Total)
	assert.Equal(t, snap.Total, snap.Completed)
}

// 重复运行：所有电影都已入库，一次详情请求都不发
func TestIngestRerunIsIdempotent(t *testing.T) {
	catalog := &fakeCatalog{ids: seqIDs(12)}
	store := newFakeMovieStore(seqIDs(12)...)
	svc := NewIngestService(catalog, store, ingestTestConfig())

	report, err := svc.Run(context.Background(), IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(12), report.Total)
	assert.Equal(t, int64(12), report.Skipped)
	assert.Zero(t, report.Success)
	assert.Zero(t, report.Failed)
	assert.Empty(t, catalog.fetched)
	assert.Empty(t, store.saved)
}

func TestIngestEmptyCatalog(t *testing.T) {
	catalog := &fakeCatalog{}
	store := newFakeMovieStore()
	svc := NewIngestService(catalog, store, ingestTestConfig())

	report, err := svc.Run(context.Background(), IngestOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Empty(t, catalog.fetched)
}

// 第一页决定总页数，拿不到就没法建立运行，整体失败
func TestIngestFirstPageFailureIsFatal(t *testing.T) {
	catalog := &fakeCatalog{
		ids:       seqIDs(25),
		failPages: map[int]struct{}{1: {}},
	}
	svc := NewIngestService(catalog, newFakeMovieStore(), ingestTestConfig())

	report, err := svc.Run(context.Background(), IngestOptions{})
	require.Error(t, err)
	assert.Nil(t, report)
}

// 后续单页失败只丢这一页的 ID，其余页照常处理
func TestIngestLaterPageFailureLosesOnlyThatPage(t *testing.T) {
	catalog := &fakeCatalog{
		ids:       seqIDs(30),
		failPages: map[int]struct{}{2: {}},
	}
	store := newFakeMovieStore()
	svc := NewIngestService(catalog, store, ingestTestConfig())

	report, err := svc.Run(context.Background(), IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(20), report.Total)
	assert.Equal(t, int64(20), report.Success)
	fetched := catalog.fetchedSet()
	for id := int64(11); id <= 20; id++ {
		assert.NotContains(t, fetched, id)
	}
}

func TestIngestMaxPages(t *testing.T) {
	catalog := &fakeCatalog{ids: seqIDs(30)}
	store := newFakeMovieStore()
	svc := NewIngestService(catalog, store, ingestTestConfig())

	report, err := svc.Run(context.Background(), IngestOptions{MaxPages: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Total)
	assert.Equal(t, int64(10), report.Success)
}

// 取消后不再处理任何条目，但已有的报告仍然返回
func TestIngestCancelledBeforeWork(t *testing.T) {
	catalog := &fakeCatalog{ids: seqIDs(25)}
	store := newFakeMovieStore()
	svc := NewIngestService(catalog, store, ingestTestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Run(ctx, IngestOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Success)
	assert.Empty(t, catalog.fetched)
}

func TestWorkerCount(t *testing.T) {
	svc := NewIngestService(nil, nil, &config.Config{MaxWorkers: 4})

	assert.Equal(t, 3, svc.workerCount(3, 10)) // 显式指定
	assert.Equal(t, 4, svc.workerCount(0, 10)) // 落回配置
	assert.Equal(t, 2, svc.workerCount(8, 2))  // 不超过批次数
	assert.Equal(t, 1, svc.workerCount(0, 0))  // 下限 1
}

func TestChunkIDs(t *testing.T) {
	batches := chunkIDs(seqIDs(25), 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)

	assert.Empty(t, chunkIDs(nil, 10))

	// 批大小非法时整个列表作为一批
	whole := chunkIDs(seqIDs(5), 0)
	require.Len(t, whole, 1)
	assert.Len(t, whole[0], 5)
}
