package loyalty

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/valuecard/internal/common"
)

// countingRepo считает обращения к хранилищу настроек.
type countingRepo struct {
	*MemoryRepository
	loads atomic.Int32
	fail  error
}

func (r *countingRepo) LoadSettings(ctx context.Context) (map[string]string, error) {
	r.loads.Add(1)
	if r.fail != nil {
		return nil, r.fail
	}
	return r.MemoryRepository.LoadSettings(ctx)
}

func TestService_DefaultsOnEmptyStore(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Minute, true)

	st, err := svc.Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "POS System", st.ShopName)
	assert.Equal(t, "Staff Panel", st.ShopBranch)
	assert.True(t, st.PointsEnabled)
	assert.Len(t, st.Tiers.Tiers(), 3)
}

func TestService_EnablePointsParsing(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveSetting(ctx, keyEnablePoints, "true"))
	st, err := NewService(repo, time.Minute, false).Current(ctx)
	require.NoError(t, err)
	assert.True(t, st.PointsEnabled)

	require.NoError(t, repo.SaveSetting(ctx, keyEnablePoints, "no"))
	st, err = NewService(repo, time.Minute, true).Current(ctx)
	require.NoError(t, err)
	assert.False(t, st.PointsEnabled)
}

func TestService_CachesWithinTTL(t *testing.T) {
	repo := &countingRepo{MemoryRepository: NewMemoryRepository()}
	svc := NewService(repo, time.Minute, true)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := svc.Current(ctx)
	require.NoError(t, err)
	_, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.loads.Load())

	now = now.Add(2 * time.Minute)
	_, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.loads.Load())
}

func TestService_ConcurrentMissesCollapse(t *testing.T) {
	repo := &countingRepo{MemoryRepository: NewMemoryRepository()}
	svc := NewService(repo, time.Minute, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Current(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, repo.loads.Load(), int32(20))
	assert.GreaterOrEqual(t, repo.loads.Load(), int32(1))
}

func TestService_LoadErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&countingRepo{MemoryRepository: NewMemoryRepository(), fail: boom}, time.Minute, true)

	_, err := svc.Current(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestService_UpdateInvalidatesCache(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Hour, true)
	ctx := context.Background()

	_, err := svc.Current(ctx)
	require.NoError(t, err)

	name, off := "Coffee Corner", false
	require.NoError(t, svc.Update(ctx, SettingsPatch{ShopName: &name, PointsEnabled: &off}))

	st, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Coffee Corner", st.ShopName)
	assert.False(t, st.PointsEnabled)
}

func TestService_ReplaceTiers(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Hour, true)
	ctx := context.Background()

	_, err := svc.ReplaceTiers(ctx, []Tier{{Name: "Only", MinSpend: d("500"), Multiplier: d("1")}})
	assert.ErrorIs(t, err, common.ErrInvalidTiers)

	table, err := svc.ReplaceTiers(ctx, []Tier{
		{Name: "Member", MinSpend: d("0"), Multiplier: d("1")},
		{Name: "VIP", MinSpend: d("5000"), Multiplier: d("2")},
	})
	require.NoError(t, err)
	assert.Equal(t, "VIP", table.ForSpend(d("6000")).Name)

	st, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Member", st.Tiers.Base().Name)
}

func TestService_SeedOnlyWhenEmpty(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, time.Hour, true)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx, DefaultTiers()))
	require.NoError(t, svc.Seed(ctx, []Tier{{Name: "Other", MinSpend: d("0"), Multiplier: d("1")}}))

	rows, err := repo.LoadTiers(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestBuildTable_SkipsDuplicateNames(t *testing.T) {
	table, err := buildTable([]Tier{
		{Name: "Bronze", MinSpend: d("0"), Multiplier: d("1")},
		{Name: "BRONZE", MinSpend: d("100"), Multiplier: d("9")},
		{Name: "Gold", MinSpend: d("3000"), Multiplier: d("1.5")},
	})
	require.NoError(t, err)
	assert.Len(t, table.Tiers(), 2)
	assert.True(t, table.ByName("bronze").Multiplier.Equal(d("1")))
}

func TestHandler_GetAndUpdate(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Hour, true)
	r := chi.NewRouter()
	NewHandler(svc).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isPointSystem":true`)
	assert.Contains(t, rec.Body.String(), `"Silver"`)

	body := `{"setting":{"name":"Kafe"},"tiers":[{"name":"Base","minSpend":"0","multiplier":"1","color":"#111"}]}`
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Kafe"`)
	assert.NotContains(t, rec.Body.String(), `"Silver"`)
}

func TestHandler_RejectsInvalidTiers(t *testing.T) {
	svc := NewService(NewMemoryRepository(), time.Hour, true)
	r := chi.NewRouter()
	NewHandler(svc).Routes(r)

	body := `{"setting":{"name":"Never"},"tiers":[{"name":"Silver","minSpend":"1000","multiplier":"1"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TIERS")

	st, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "POS System", st.ShopName, "настройки не должны сохраниться при ошибке уровней")
}
