package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stock_review/internal/cache"
	"stock_review/internal/config"
	"stock_review/internal/models"
	"stock_review/internal/report"
	"stock_review/internal/watchlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	err    error
	called []string
}

func (f *fakePublisher) PublishFile(ctx context.Context, mdPath, cover, title string) (string, error) {
	f.called = append(f.called, mdPath)
	if f.err != nil {
		return "", f.err
	}
	return "draft-1", nil
}

type runnerEnv struct {
	runner    *ReportRunner
	em        *fakeEastMoney
	primary   *fakeQuotes
	secondary *fakeQuotes
	lhb       *fakeLeaderboard
	store     *cache.Store
	reportDir string
	publisher *fakePublisher
}

func newRunnerEnv(t *testing.T) *runnerEnv {
	t.Helper()
	em, market, lhb := fullMarket()
	env := &runnerEnv{
		em:        em,
		primary:   &fakeQuotes{name: "primary", rows: market},
		secondary: &fakeQuotes{name: "secondary", err: errUpstream},
		lhb:       lhb,
		store:     cache.NewStore(t.TempDir()),
		reportDir: filepath.Join(t.TempDir(), "posts"),
		publisher: &fakePublisher{},
	}

	src, _ := newTestSource(t, em, env.primary, env.secondary, lhb)
	src.now = func() time.Time { return time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC) }
	fetcher := NewDataFetcher(src, env.store, src.config, zap.NewNop())

	renderer, err := report.NewRenderer(&config.ReportConfig{
		Dir:         env.reportDir,
		Timezone:    "Europe/Zurich",
		Backdate:    10,
		SectorCount: 5,
		ExportExcel: true,
	}, 15, zap.NewNop())
	require.NoError(t, err)

	engine := watchlist.NewEngine(env.store, 5, zap.NewNop())
	env.runner = NewReportRunner(fetcher, engine, renderer, env.publisher, nil, true, zap.NewNop())
	return env
}

func (e *runnerEnv) reportFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.reportDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

// TestRun_QuotesExhaustedWritesNoReport 全市场行情三次失败，不生成报告
func TestRun_QuotesExhaustedWritesNoReport(t *testing.T) {
	env := newRunnerEnv(t)
	env.primary.rows = nil
	env.primary.err = errUpstream

	res, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.ErrorIs(t, err, ErrExhaustedRetries)
	assert.Nil(t, res)
	assert.Equal(t, 2, env.primary.calls)
	assert.Equal(t, 1, env.secondary.calls)
	assert.Empty(t, env.reportFiles(t))

	_, err = os.Stat(env.store.Path(cache.PoolKey(models.PoolWatchlist1, "20240105")))
	assert.True(t, os.IsNotExist(err))
}

// TestRun_Success 完整流程：报告、观察池缓存、Excel 与发布
func TestRun_Success(t *testing.T) {
	env := newRunnerEnv(t)

	res, err := env.runner.Run(context.Background(), RunOptions{Publish: true})
	require.NoError(t, err)

	assert.Equal(t, "20240105", res.Date)
	assert.Equal(t, models.TaskStatusCompleted, res.Task.Status)
	assert.Equal(t, 100, res.Task.Progress)
	assert.Equal(t, "draft-1", res.DraftID)
	assert.Equal(t, []string{res.ReportPath}, env.publisher.called)
	assert.FileExists(t, res.ReportPath)
	assert.FileExists(t, res.ExcelPath)

	content, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "-- 板块5. 概念5 --")
	assert.Contains(t, string(content), "- **全市场成交总额**: 8000.00 亿")
	assert.NotContains(t, string(content), "*ST国华")

	// 贵州茅台、平安银行、宁德时代 分别因涨停、炸板、龙虎榜入选
	var wl1 []string
	for _, r := range res.Watchlists.LargeFlow.Rows {
		wl1 = append(wl1, r.Name)
	}
	assert.Equal(t, []string{"贵州茅台", "平安银行", "宁德时代"}, wl1)

	// 只有平安银行在热门板块内
	require.Len(t, res.Watchlists.SectorMomentum.Rows, 1)
	assert.Equal(t, models.StatusFailedLimit, res.Watchlists.SectorMomentum.Rows[0].Status)

	cached, ok, err := env.runner.Watchlists("20240105")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, cached.LargeFlow.Len())
}

// TestRun_SecondRunUsesCache 再次运行全部读缓存，不再请求上游
func TestRun_SecondRunUsesCache(t *testing.T) {
	env := newRunnerEnv(t)
	_, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.NoError(t, err)

	counts := map[string]int{}
	for k, v := range env.em.calls {
		counts[k] = v
	}
	env.primary.err = errUpstream

	res, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.NoError(t, err)
	assert.True(t, res.Watchlists.FromCache)
	assert.Equal(t, counts, env.em.calls)
	assert.Equal(t, 1, env.primary.calls)
}

// TestRun_MissingSectorRefetchedAlone 只补抓缺失的板块缓存
func TestRun_MissingSectorRefetchedAlone(t *testing.T) {
	env := newRunnerEnv(t)
	_, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.NoError(t, err)

	require.NoError(t, os.Remove(env.store.Path(cache.SectorKey(2, "20240105"))))
	require.NoError(t, os.Remove(env.store.Path(cache.PoolKey(models.PoolWatchlist1, "20240105"))))

	_, err = env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.NoError(t, err)
	assert.Equal(t, 1, env.em.calls["cons_BK0001"])
	assert.Equal(t, 2, env.em.calls["cons_BK0002"])
	assert.Equal(t, 1, env.em.calls["cons_BK0003"])
}

// TestRun_PublishFailureIsNotFatal 发布失败不影响报告
func TestRun_PublishFailureIsNotFatal(t *testing.T) {
	env := newRunnerEnv(t)
	env.publisher.err = errors.New("token expired")

	res, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105", Publish: true})
	require.NoError(t, err)
	assert.Empty(t, res.DraftID)
	assert.FileExists(t, res.ReportPath)
}

// TestRun_MissingSectorsAbortsRender 板块不足时不渲染
func TestRun_MissingSectorsAbortsRender(t *testing.T) {
	env := newRunnerEnv(t)
	env.em.sectors = env.em.sectors[:4]

	_, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.ErrorIs(t, err, report.ErrMissingPrecondition)
	assert.Empty(t, env.reportFiles(t))
}

// TestRun_LimitPoolRetry 涨跌停池缺失时只补抓一次缺失的池
func TestRun_LimitPoolRetry(t *testing.T) {
	env := newRunnerEnv(t)
	env.em.poolErrs[models.PoolLimitDown] = errUpstream

	_, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.ErrorIs(t, err, report.ErrMissingPrecondition)
	assert.Equal(t, 1, env.em.calls[string(models.PoolLimitUp)])
	assert.Equal(t, 2, env.em.calls[string(models.PoolLimitDown)])
}

// TestRun_IncompleteInputsDoNotCacheWatchlists 输入不全的运行不落观察池缓存，补齐后重跑得到完整观察池
func TestRun_IncompleteInputsDoNotCacheWatchlists(t *testing.T) {
	env := newRunnerEnv(t)
	env.em.poolErrs[models.PoolLimitUp] = errUpstream

	_, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.ErrorIs(t, err, report.ErrMissingPrecondition)
	for _, kind := range []models.PoolKind{models.PoolWatchlist1, models.PoolWatchlist2} {
		_, err = os.Stat(env.store.Path(cache.PoolKey(kind, "20240105")))
		assert.True(t, os.IsNotExist(err), kind)
	}
	_, ok, err := env.runner.Watchlists("20240105")
	require.NoError(t, err)
	assert.False(t, ok)

	delete(env.em.poolErrs, models.PoolLimitUp)
	res, err := env.runner.Run(context.Background(), RunOptions{Date: "20240105"})
	require.NoError(t, err)
	assert.False(t, res.Watchlists.FromCache)

	var wl1 []string
	for _, r := range res.Watchlists.LargeFlow.Rows {
		wl1 = append(wl1, r.Name)
	}
	assert.Equal(t, []string{"贵州茅台", "平安银行", "宁德时代"}, wl1)
}

// TestGetTaskProgress_WithoutDatabase 未配置数据库时仍可查询近期任务
func TestGetTaskProgress_WithoutDatabase(t *testing.T) {
	env := newRunnerEnv(t)

	task := env.runner.NewTask("20240105")
	got, err := env.runner.GetTaskProgress(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, got.Status)

	_, err = env.runner.Execute(context.Background(), task, RunOptions{Date: "20240105"})
	require.NoError(t, err)

	got, err = env.runner.GetTaskProgress(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "done", got.Stage)
	assert.NotEmpty(t, got.ReportPath)

	_, err = env.runner.GetTaskProgress("report_unknown")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// TestGetTaskProgress_Evicted 只保留最近的任务
func TestGetTaskProgress_Evicted(t *testing.T) {
	env := newRunnerEnv(t)
	first := env.runner.NewTask("20240105")
	for i := 0; i < maxTrackedTasks; i++ {
		env.runner.NewTask("20240105")
	}
	_, err := env.runner.GetTaskProgress(first.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
