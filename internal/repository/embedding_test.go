package repository

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	cases := []struct {
		in   string
		want Metric
	}{
		{"", MetricCosine},
		{"cosine", MetricCosine},
		{"COSINE", MetricCosine},
		{" cosine ", MetricCosine},
		{"euclidean", MetricEuclidean},
		{"l2", MetricEuclidean},
		{"inner_product", MetricInnerProduct},
		{"innerproduct", MetricInnerProduct},
		{"ip", MetricInnerProduct},
	}
	for _, c := range cases {
		got, err := ParseMetric(c.in)
		require.NoError(t, err, "输入 %q", c.in)
		assert.Equal(t, c.want, got, "输入 %q", c.in)
	}
}

func TestParseMetricUnknown(t *testing.T) {
	_, err := ParseMetric("manhattan")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestMetricOperator(t *testing.T) {
	assert.Equal(t, "<=>", MetricCosine.Operator())
	assert.Equal(t, "<->", MetricEuclidean.Operator())
	assert.Equal(t, "<#>", MetricInnerProduct.Operator())
}

// 余弦距离换算成 1-d 的相似度，欧氏距离原样返回，
// 内积取反还原（pgvector 的 <#> 返回的是负内积）。
func TestMetricSimilarity(t *testing.T) {
	assert.InDelta(t, 0.8, MetricCosine.Similarity(0.2), 1e-9)
	assert.InDelta(t, 1.5, MetricEuclidean.Similarity(1.5), 1e-9)
	assert.InDelta(t, 0.9, MetricInnerProduct.Similarity(-0.9), 1e-9)
}

func TestMetricString(t *testing.T) {
	assert.Equal(t, "cosine", MetricCosine.String())
	assert.Equal(t, "euclidean", MetricEuclidean.String())
	assert.Equal(t, "inner_product", MetricInnerProduct.String())
}

func TestEmbeddingSaveUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO movie_embeddings \(movie_id, embedding\) VALUES \(\$1, \$2\)`).
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Save(42, pgvector.NewVector([]float32{0.5, 0.25}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingMovieIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectQuery(`SELECT "movie_id" FROM "movie_embeddings" WHERE movie_id = ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"movie_id"}).AddRow(int64(1)).AddRow(int64(3)))

	existing, err := repo.ExistingMovieIDs([]int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
	assert.Contains(t, existing, int64(1))
	assert.Contains(t, existing, int64(3))
	assert.NotContains(t, existing, int64(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingMovieIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectQuery(`FROM "movies" LEFT JOIN movie_embeddings e ON e.movie_id = movies.id WHERE e.movie_id IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(5)).AddRow(int64(9)))

	ids, err := repo.MissingMovieIDs(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNearestByVector(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectQuery(`SELECT movie_id, embedding <=> \$1 AS distance FROM movie_embeddings WHERE movie_id <> \$2 ORDER BY distance LIMIT \$3`).
		WithArgs(sqlmock.AnyArg(), int64(3), 5).
		WillReturnRows(sqlmock.NewRows([]string{"movie_id", "distance"}).
			AddRow(int64(7), 0.12).
			AddRow(int64(9), 0.34))

	got, err := repo.NearestByVector(pgvector.NewVector([]float32{0.1, 0.2}), MetricCosine, 5, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].MovieID)
	assert.InDelta(t, 0.12, got[0].Distance, 1e-9)
	assert.Equal(t, int64(9), got[1].MovieID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 不排除任何电影时不应拼出 WHERE 子句（按文本查询的路径）
func TestNearestByVectorNoExclusion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectQuery(`SELECT movie_id, embedding <-> \$1 AS distance FROM movie_embeddings ORDER BY distance LIMIT \$2`).
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows([]string{"movie_id", "distance"}).AddRow(int64(2), 1.7))

	got, err := repo.NearestByVector(pgvector.NewVector([]float32{1, 0}), MetricEuclidean, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].MovieID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 查询电影还没有向量：返回空结果而不是错误，也不再发近邻查询
func TestNearestNeighborsMissingSource(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "movie_embeddings" WHERE movie_id`).
		WillReturnRows(sqlmock.NewRows([]string{"movie_id", "embedding"}))

	got, err := repo.NearestNeighbors(12, MetricCosine, 10)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNearestNeighborsExcludesSelf(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "movie_embeddings" WHERE movie_id`).
		WillReturnRows(sqlmock.NewRows([]string{"movie_id", "embedding"}).
			AddRow(int64(12), "[0.1,0.2]"))
	mock.ExpectQuery(`SELECT movie_id, embedding <=> \$1 AS distance FROM movie_embeddings WHERE movie_id <> \$2 ORDER BY distance LIMIT \$3`).
		WithArgs(sqlmock.AnyArg(), int64(12), 10).
		WillReturnRows(sqlmock.NewRows([]string{"movie_id", "distance"}).AddRow(int64(4), 0.05))

	got, err := repo.NearestNeighbors(12, MetricCosine, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].MovieID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEmbeddingRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "movie_embeddings"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(321)))

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(321), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
