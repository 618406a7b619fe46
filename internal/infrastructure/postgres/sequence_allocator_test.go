package postgres_test

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/postgres"
	"github.com/jhoicas/Facturacion-api/pkg/config"
)

// Requiere TEST_DATABASE_URL apuntando a una base desechable.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL no definido")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: url, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedResolution(t *testing.T, pool *pgxpool.Pool, from, to int64) string {
	t.Helper()
	id := uuid.NewString()
	err := postgres.NewBillingResolutionRepository(pool).Create(context.Background(), &entity.SequenceResolution{
		ID: id,
		ResolutionInfo: entity.ResolutionInfo{
			ResolutionNumber: "18760000001", Prefix: "FE", RangeFrom: from, RangeTo: to,
			DateFrom: time.Now().AddDate(0, -1, 0), DateTo: time.Now().AddDate(1, 0, 0),
			TechnicalKey: "ClaveTest123",
		},
		IsActive: true,
	})
	require.NoError(t, err)
	return id
}

func TestPostgresAllocate_RangoUnoATres(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	id := seedResolution(t, pool, 1, 3)
	a := postgres.NewSequenceAllocator(pool)

	for _, want := range []int64{1, 2, 3} {
		n, err := a.Allocate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	_, err := a.Allocate(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRangeExhausted)

	res, err := a.Resolution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Cursor)
}

func TestBillingResolution_RangoMenorQueCursor(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	id := seedResolution(t, pool, 1, 10)
	a := postgres.NewSequenceAllocator(pool)
	for i := 0; i < 5; i++ {
		_, err := a.Allocate(ctx, id)
		require.NoError(t, err)
	}
	repo := postgres.NewBillingResolutionRepository(pool)
	res, err := repo.GetByID(ctx, id)
	require.NoError(t, err)

	res.RangeTo = 3
	err = repo.Create(ctx, res)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.RangeTo)
	assert.Equal(t, int64(5), got.Cursor)

	res.RangeTo = 5
	require.NoError(t, repo.Create(ctx, res))
}

func TestBillingResolution_RangoInvertido(t *testing.T) {
	pool := testPool(t)
	err := postgres.NewBillingResolutionRepository(pool).Create(context.Background(), &entity.SequenceResolution{
		ID:             uuid.NewString(),
		ResolutionInfo: entity.ResolutionInfo{ResolutionNumber: "1", RangeFrom: 10, RangeTo: 5},
	})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestPostgresAllocate_Inexistente(t *testing.T) {
	pool := testPool(t)
	_, err := postgres.NewSequenceAllocator(pool).Allocate(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresAllocate_ConcurrenteSinDuplicados(t *testing.T) {
	const n = 50
	pool := testPool(t)
	ctx := context.Background()
	id := seedResolution(t, pool, 1, n)
	a := postgres.NewSequenceAllocator(pool)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := a.Allocate(ctx, id)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			got = append(got, num)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, got, n)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, num := range got {
		assert.Equal(t, int64(i+1), num)
	}
}
