package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/richytech/webhookrelay/internal/models"
)

func TestNextRetryDelay(t *testing.T) {
	policy := models.RetryPolicy{
		IntervalsMs: []int64{0, 60000, 300000},
	}

	t.Run("first retry uses first interval", func(t *testing.T) {
		delay, ok := NextRetryDelay(1, policy)
		assert.True(t, ok)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("second retry uses second interval", func(t *testing.T) {
		delay, ok := NextRetryDelay(2, policy)
		assert.True(t, ok)
		assert.Equal(t, time.Minute, delay)
	})

	t.Run("third retry uses third interval", func(t *testing.T) {
		delay, ok := NextRetryDelay(3, policy)
		assert.True(t, ok)
		assert.Equal(t, 5*time.Minute, delay)
	})

	t.Run("exhausted after table length", func(t *testing.T) {
		_, ok := NextRetryDelay(4, policy)
		assert.False(t, ok)
	})

	t.Run("table of N intervals allows N+1 total attempts", func(t *testing.T) {
		p := models.RetryPolicy{IntervalsMs: []int64{0, 60000}}
		attempts := 1
		for {
			if _, ok := NextRetryDelay(attempts, p); !ok {
				break
			}
			attempts++
		}
		assert.Equal(t, 3, attempts)
	})

	t.Run("max attempts caps before table runs out", func(t *testing.T) {
		p := models.RetryPolicy{MaxAttempts: 2, IntervalsMs: []int64{0, 60000, 300000}}
		_, ok := NextRetryDelay(1, p)
		assert.True(t, ok)
		_, ok = NextRetryDelay(2, p)
		assert.False(t, ok)
	})

	t.Run("zero retry count never schedules", func(t *testing.T) {
		_, ok := NextRetryDelay(0, policy)
		assert.False(t, ok)
	})

	t.Run("default policy allows seven attempts", func(t *testing.T) {
		p := models.DefaultRetryPolicy()
		attempts := 1
		for {
			if _, ok := NextRetryDelay(attempts, p); !ok {
				break
			}
			attempts++
		}
		assert.Equal(t, 7, attempts)
	})
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(200))
	assert.True(t, IsSuccess(204))
	assert.True(t, IsSuccess(299))
	assert.False(t, IsSuccess(199))
	assert.False(t, IsSuccess(301))
	assert.False(t, IsSuccess(404))
	assert.False(t, IsSuccess(500))
	assert.False(t, IsSuccess(0))
}
