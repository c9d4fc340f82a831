package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Fetcher.QuoteRetries)
	assert.Equal(t, 5, cfg.Fetcher.QuoteRetryDelay)
	assert.Equal(t, 20, cfg.Fetcher.LookbackDays)
	assert.Equal(t, 20, cfg.Fetcher.TopTurnover)
	assert.Equal(t, 5, cfg.Fetcher.TopSectors)
	assert.Equal(t, 15, cfg.Fetcher.SectorTopN)
	assert.Equal(t, 1, cfg.Fetcher.Concurrency)
	assert.Equal(t, []string{"1.000001", "0.399001"}, cfg.Fetcher.IndexSecIDs)
	assert.Equal(t, "Europe/Zurich", cfg.Report.Timezone)
	assert.Equal(t, 10*time.Minute, cfg.Report.BackdateDuration())
	assert.Equal(t, "data", cfg.Cache.Dir)
	assert.Empty(t, cfg.Database.Type)
}

func TestLoadConfig_SecretsFromEnv(t *testing.T) {
	t.Setenv("WECHAT_APPID", "wx123")
	t.Setenv("WECHAT_SECRET", "s3cr3t")
	path := writeConfig(t, "wechat:\n  author: tester\n")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "wx123", cfg.WeChat.AppID)
	assert.Equal(t, "s3cr3t", cfg.WeChat.AppSecret)
	assert.Equal(t, "tester", cfg.WeChat.Author)
	assert.NoError(t, cfg.WeChat.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "读取配置文件失败")
}

func TestValidateConfig(t *testing.T) {
	t.Run("不支持的数据库", func(t *testing.T) {
		cfg := &Config{Database: DatabaseConfig{Type: "oracle"}}
		assert.Error(t, validateConfig(cfg))
	})

	t.Run("板块数大于抓取数", func(t *testing.T) {
		cfg := &Config{Fetcher: FetcherConfig{TopSectors: 3}, Report: ReportConfig{SectorCount: 5}}
		assert.Error(t, validateConfig(cfg))
	})

	t.Run("无效时区", func(t *testing.T) {
		cfg := &Config{Report: ReportConfig{Timezone: "Mars/Olympus"}}
		assert.Error(t, validateConfig(cfg))
	})

	t.Run("负的回拨时间", func(t *testing.T) {
		cfg := &Config{Report: ReportConfig{Backdate: -1}}
		assert.Error(t, validateConfig(cfg))
	})
}

func TestWeChatValidate(t *testing.T) {
	c := &WeChatConfig{AppID: "wx"}
	assert.Error(t, c.Validate())
}

func TestGetDSN(t *testing.T) {
	pg := &DatabaseConfig{Type: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "review"}
	assert.Contains(t, pg.GetDSN(), "host=db port=5432")

	my := &DatabaseConfig{Type: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", DBName: "review"}
	assert.Equal(t, "u:p@tcp(db:3306)/review?charset=utf8mb4&parseTime=True&loc=Local", my.GetDSN())

	assert.Empty(t, (&DatabaseConfig{}).GetDSN())
}
