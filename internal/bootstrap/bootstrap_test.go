package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

func TestCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []string
	rt := &Runtime{}
	rt.Defer(func() error { order = append(order, "db"); return errors.New("db busy") })
	rt.Defer(func() error { order = append(order, "pubsub"); return nil })
	rt.Defer(func() error { order = append(order, "redis"); return errors.New("redis gone") })

	err := rt.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db busy")
	assert.Contains(t, err.Error(), "redis gone")
	assert.Equal(t, []string{"redis", "pubsub", "db"}, order)
	assert.NoError(t, rt.Close())
}

func TestOpenWithSQLiteSkipsRedis(t *testing.T) {
	rt := &Runtime{
		Config: &config.Config{DB: config.DBConfig{Driver: config.DBDriverSQLite, DSN: "file::memory:"}},
		Logger: logger.New(logger.Options{ServiceName: "bootstrap-test", Level: logger.ParseLevel("error")}),
	}
	require.NoError(t, rt.open(context.Background()))
	assert.NotNil(t, rt.DB)
	assert.Nil(t, rt.Redis)
	assert.Equal(t, "local", rt.Env())
	assert.NoError(t, rt.Close())
}
