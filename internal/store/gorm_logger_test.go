package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-authgate/checkrgate/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	obsCore, logs := observer.New(zapcore.DebugLevel)
	logger.Set(zap.New(obsCore))
	t.Cleanup(func() { logger.Set(nil) })
	return logs
}

func TestGormLogger_RecordNotFoundIsSilent(t *testing.T) {
	logs := observeLogs(t)

	s, err := New(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.FindByPartnerAccountID(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrRecordNotFound)
	_, err = s.FindByCheckrAccountID(context.Background(), "X404")
	require.ErrorIs(t, err, ErrRecordNotFound)

	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestGormLogger_Trace(t *testing.T) {
	sql := func() (string, int64) { return "SELECT 1", 0 }

	t.Run("query error", func(t *testing.T) {
		logs := observeLogs(t)
		newGormLogger().Trace(context.Background(), time.Now(), sql, errors.New("disk I/O error"))

		entries := logs.FilterMessage("db.query_failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "store", entries[0].ContextMap()["component"])
		assert.Equal(t, "SELECT 1", entries[0].ContextMap()["sql"])
	})

	t.Run("record not found", func(t *testing.T) {
		logs := observeLogs(t)
		newGormLogger().Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
		assert.Zero(t, logs.Len())
	})

	t.Run("slow query", func(t *testing.T) {
		logs := observeLogs(t)
		begin := time.Now().Add(-2 * slowQueryThreshold)
		newGormLogger().Trace(context.Background(), begin, sql, nil)
		assert.Equal(t, 1, logs.FilterMessage("db.slow_query").Len())
	})

	t.Run("silent mode", func(t *testing.T) {
		logs := observeLogs(t)
		l := newGormLogger().LogMode(gormlogger.Silent)
		l.Trace(context.Background(), time.Now(), sql, errors.New("boom"))
		l.Error(context.Background(), "boom %d", 1)
		assert.Zero(t, logs.Len())
	})
}
