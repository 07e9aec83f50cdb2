package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/movievec/internal/config"
	"github.com/user/movievec/internal/model"
)

type fakeMovieLoader struct {
	movies map[int64]model.Movie
	err    error
}

func (f *fakeMovieLoader) FindBatchForEmbedding(ids []int64) ([]model.Movie, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Movie
	for _, id := range ids {
		if m, ok := f.movies[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeEmbeddingStore struct {
	mu       sync.Mutex
	all      []int64
	existing map[int64]struct{}
	saved    map[int64]pgvector.Vector
	saveErr  map[int64]error
}

func newFakeEmbeddingStore(all []int64, existing ...int64) *fakeEmbeddingStore {
	s := &fakeEmbeddingStore{
		all:      all,
		existing: make(map[int64]struct{}),
		saved:    make(map[int64]pgvector.Vector),
	}
	for _, id := range existing {
		s.existing[id] = struct{}{}
	}
	return s
}

func (f *fakeEmbeddingStore) AllMovieIDs(limit int) ([]int64, error) {
	if limit > 0 && limit < len(f.all) {
		return f.all[:limit], nil
	}
	return f.all, nil
}

func (f *fakeEmbeddingStore) ExistingMovieIDs(movieIDs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for _, id := range movieIDs {
		if _, ok := f.existing[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeEmbeddingStore) Save(movieID int64, vec pgvector.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.saveErr[movieID]; err != nil {
		return err
	}
	f.saved[movieID] = vec
	return nil
}

// fakeTextEmbedder 按文本内容决定成败，记录每次批量调用
type fakeTextEmbedder struct {
	mu        sync.Mutex
	calls     int
	texts     []string
	failTexts map[string]struct{}
}

func (f *fakeTextEmbedder) EmbedMany(_ context.Context, texts []string, _ int) []EmbedResult {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, texts...)
	f.mu.Unlock()

	out := make([]EmbedResult, len(texts))
	for i, text := range texts {
		if _, bad := f.failTexts[text]; bad {
			out[i] = EmbedResult{Index: i, Err: errors.New("嵌入服务超时")}
			continue
		}
		out[i] = EmbedResult{Index: i, Vector: pgvector.NewVector([]float32{1, 0})}
	}
	return out
}

func backfillTestConfig() *config.Config {
	return &config.Config{
		EmbeddingBatchSize: 100,
		EmbeddingMaxConc:   4,
		EmbeddingDimension: 2,
	}
}

func backfillMovies(ids ...int64) map[int64]model.Movie {
	movies := make(map[int64]model.Movie, len(ids))
	titles := []string{"Interstellar", "The Matrix", "Blade Runner", "Arrival", "Moon"}
	for i, id := range ids {
		movies[id] = model.Movie{ID: id, Title: titles[i%len(titles)], Year: 2000 + int(id)}
	}
	return movies
}

// 已有向量的电影在任何嵌入请求之前就被过滤掉
func TestBackfillSkipsExisting(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{1, 2, 3, 4, 5}, 1, 2)
	loader := &fakeMovieLoader{movies: backfillMovies(3, 4, 5)}
	embedder := &fakeTextEmbedder{}
	svc := NewBackfillService(loader, store, embedder, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(5), report.Total)
	assert.Equal(t, int64(2), report.Skipped)
	assert.Equal(t, int64(3), report.Success)
	assert.Zero(t, report.Failed)
	assert.Equal(t, report.Total, report.Success+report.Skipped+report.Failed)

	assert.Len(t, embedder.texts, 3)
	assert.Contains(t, store.saved, int64(3))
	assert.Contains(t, store.saved, int64(4))
	assert.Contains(t, store.saved, int64(5))
}

func TestBackfillAllUpToDate(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{1, 2, 3}, 1, 2, 3)
	svc := NewBackfillService(&fakeMovieLoader{}, store, &fakeTextEmbedder{}, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Skipped)
	assert.Zero(t, report.Success)
}

// 强制模式不过滤，所有电影重新生成，批次按 BatchSize 切
func TestBackfillForceRegeneratesAll(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{1, 2, 3, 4, 5}, 1, 2, 3, 4, 5)
	loader := &fakeMovieLoader{movies: backfillMovies(1, 2, 3, 4, 5)}
	embedder := &fakeTextEmbedder{}
	svc := NewBackfillService(loader, store, embedder, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{Force: true, BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(5), report.Success)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 3, embedder.calls)
	assert.Len(t, store.saved, 5)
}

func TestBackfillLimit(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{1, 2, 3, 4, 5})
	loader := &fakeMovieLoader{movies: backfillMovies(1, 2)}
	embedder := &fakeTextEmbedder{}
	svc := NewBackfillService(loader, store, embedder, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Total)
	assert.Equal(t, int64(2), report.Success)
}

// 文本太短和库里已查不到的电影都按单条 failed 计数，不中断批次
func TestBackfillPerMovieFailures(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{3, 4, 5})
	loader := &fakeMovieLoader{movies: map[int64]model.Movie{
		3: {ID: 3, Title: "Ab"}, // 拼出的文本不足
		5: {ID: 5, Title: "Arrival", Year: 2016},
		// 4 在清单里但已经查不到
	}}
	embedder := &fakeTextEmbedder{}
	svc := NewBackfillService(loader, store, embedder, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(3), report.Total)
	assert.Equal(t, int64(1), report.Success)
	assert.Equal(t, int64(2), report.Failed)
	assert.Len(t, embedder.texts, 1)
	assert.Contains(t, store.saved, int64(5))
}

func TestBackfillEmbedErrorCounts(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{1, 2})
	loader := &fakeMovieLoader{movies: backfillMovies(1, 2)}
	embedder := &fakeTextEmbedder{failTexts: map[string]struct{}{
		BuildEmbeddingText(&model.Movie{ID: 1, Title: "Interstellar", Year: 2001}): {},
	}}
	svc := NewBackfillService(loader, store, embedder, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Success)
	assert.Equal(t, int64(1), report.Failed)
	assert.NotContains(t, store.saved, int64(1))
	assert.Contains(t, store.saved, int64(2))
}

func TestBackfillSaveErrorCounts(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{1, 2})
	store.saveErr = map[int64]error{2: errors.New("连接中断")}
	loader := &fakeMovieLoader{movies: backfillMovies(1, 2)}
	svc := NewBackfillService(loader, store, &fakeTextEmbedder{}, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Success)
	assert.Equal(t, int64(1), report.Failed)
}

func TestBackfillLoadErrorFailsWholeBatch(t *testing.T) {
	store := newFakeEmbeddingStore([]int64{1, 2, 3})
	loader := &fakeMovieLoader{err: errors.New("数据库连接失败")}
	embedder := &fakeTextEmbedder{}
	svc := NewBackfillService(loader, store, embedder, backfillTestConfig())

	report, err := svc.Run(context.Background(), BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Failed)
	assert.Zero(t, embedder.calls)
}

// ==================== 嵌入文本拼接 ====================

func TestBuildEmbeddingTextFullMovie(t *testing.T) {
	m := &model.Movie{
		Title:           "Inception",
		Year:            2010,
		Genres:          []model.Genre{{Name: "Action"}, {Name: "Sci-Fi"}},
		DescriptionFull: "A thief steals secrets through dreams.",
		Casts:           []model.Cast{{Name: "Leonardo DiCaprio"}, {Name: "Joseph Gordon-Levitt"}},
		Language:        "en",
		Rating:          8.8,
	}

	want := "Title: Inception | Year: 2010 | Genres: Action, Sci-Fi | " +
		"Description: A thief steals secrets through dreams. | " +
		"Cast: Leonardo DiCaprio, Joseph Gordon-Levitt | Language: en | Rating: 8.8/10"
	assert.Equal(t, want, BuildEmbeddingText(m))
}

// 长简介缺失时退回短简介
func TestBuildEmbeddingTextDescriptionFallback(t *testing.T) {
	m := &model.Movie{Title: "Moon", DescriptionIntro: "A lonely astronaut."}
	assert.Equal(t, "Title: Moon | Description: A lonely astronaut.", BuildEmbeddingText(m))
}

// 演员只取前五个
func TestBuildEmbeddingTextTopFiveCast(t *testing.T) {
	m := &model.Movie{
		Title: "Ensemble",
		Casts: []model.Cast{
			{Name: "A"}, {Name: "B"}, {Name: "C"},
			{Name: "D"}, {Name: "E"}, {Name: "F"}, {Name: "G"},
		},
	}
	assert.Equal(t, "Title: Ensemble | Cast: A, B, C, D, E", BuildEmbeddingText(m))
}

func TestBuildEmbeddingTextOmitsMissingFields(t *testing.T) {
	assert.Equal(t, "", BuildEmbeddingText(&model.Movie{}))
	assert.Equal(t, "Title: Heat", BuildEmbeddingText(&model.Movie{Title: "Heat"}))
}
