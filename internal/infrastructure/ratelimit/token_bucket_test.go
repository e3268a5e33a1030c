package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/keyguard/internal/domain/service/mocks"
)

func TestTokenBucketPool_AllowAndRefill(t *testing.T) {
	clock := mocks.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewTokenBucketPool(TokenBucketConfig{Rate: 1, Burst: 2, Clock: clock})

	ok, _ := p.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = p.Allow("10.0.0.1")
	assert.True(t, ok)

	ok, wait := p.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = p.Allow("10.0.0.2")
	assert.True(t, ok, "buckets are per key")

	clock.Advance(time.Second)
	ok, _ = p.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestTokenBucketPool_Cleanup(t *testing.T) {
	clock := mocks.NewFakeClock(time.Now())
	p := NewTokenBucketPool(TokenBucketConfig{Rate: 10, Burst: 10, Clock: clock})

	p.Allow("a")
	p.Allow("b")
	clock.Advance(2 * time.Minute)
	p.Allow("b")

	assert.Equal(t, 1, p.Cleanup(time.Minute))
	assert.Equal(t, 1, p.Size())
}
