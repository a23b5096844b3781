package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, 0)

	var order []string
	sm.Register("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})
	sm.Register("cache", func(context.Context) error {
		order = append(order, "cache")
		return nil
	})

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"cache", "database"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, 0)

	ran := false
	sm.Register("first", func(context.Context) error {
		ran = true
		return nil
	})
	sm.Register("redis", func(context.Context) error {
		return errors.New("close failed")
	})

	err := sm.Shutdown()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis: close failed")
	assert.True(t, ran, "later failures must not skip earlier steps")
}
