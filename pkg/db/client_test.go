package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

type stop struct {
	ID    int
	Label string
}

func newClient(t *testing.T, logg *logger.Logger) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DBDriverSQLite,
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}, logg)
	require.NoError(t, err)
	require.NoError(t, client.DB().AutoMigrate(&stop{}))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.Error(t, err)
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	client := newClient(t, nil)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&stop{Label: "kept"}).Error
	}))
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&stop{Label: "dropped"}).Error)
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	assert.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&stop{Label: "panicked"}).Error)
			panic("driver exploded")
		})
	})

	var labels []string
	require.NoError(t, client.DB().Model(&stop{}).Pluck("label", &labels).Error)
	assert.Equal(t, []string{"kept"}, labels)
	assert.NoError(t, client.Ping(ctx))
}

func TestQueryLoggerReportsFailuresNotMisses(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &out})
	client := newClient(t, logg)

	var missing stop
	err := client.DB().First(&missing, "id = ?", 42).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NotContains(t, out.String(), "db.query_failed")

	require.Error(t, client.DB().Exec("SELECT * FROM no_such_table").Error)
	assert.Contains(t, out.String(), "db.query_failed")
	assert.Contains(t, out.String(), "no_such_table")
}

func TestQueryLoggerFlagsSlowStatements(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &out})
	q := newQueryLogger(logg, time.Millisecond)

	q.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	assert.Contains(t, out.String(), "db.query_slow")

	out.Reset()
	q.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)
	assert.Empty(t, out.String())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil, ""))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: pool_participants.pool_id"), ""))
	assert.True(t, IsUniqueViolation(errors.New(`duplicate key value violates unique constraint "ux_outbox_events_once"`), "ux_outbox_events_once"))
	assert.False(t, IsUniqueViolation(errors.New("connection reset"), ""))
}
