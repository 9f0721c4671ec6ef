package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheck_AllowsUntilMaxThenRejects(t *testing.T) {
	l := NewWithLimits(map[BucketType]limit{BucketWSMessages: {max: 3, window: time.Minute}})
	defer l.Stop()

	for i := 0; i < 2; i++ {
		r := l.Check(BucketWSMessages, "sess1")
		assert.True(t, r.Allowed)
	}
	r := l.Check(BucketWSMessages, "sess1")
	assert.False(t, r.Allowed, "third event reaches the configured max of 3")
}

func TestCheck_SlidesWindowAfterExpiry(t *testing.T) {
	l := NewWithLimits(map[BucketType]limit{BucketAudioChunks: {max: 1, window: 20 * time.Millisecond}})
	defer l.Stop()

	r1 := l.Check(BucketAudioChunks, "sess1")
	assert.True(t, r1.Allowed)

	r2 := l.Check(BucketAudioChunks, "sess1")
	assert.False(t, r2.Allowed)

	time.Sleep(30 * time.Millisecond)
	r3 := l.Check(BucketAudioChunks, "sess1")
	assert.True(t, r3.Allowed, "event outside the window must not count against the limit")
}

func TestCheck_IdentitiesAreIndependent(t *testing.T) {
	l := NewWithLimits(map[BucketType]limit{BucketWSMessages: {max: 1, window: time.Minute}})
	defer l.Stop()

	assert.True(t, l.Check(BucketWSMessages, "sess1").Allowed)
	assert.True(t, l.Check(BucketWSMessages, "sess2").Allowed, "distinct identities must not share a bucket")
}

func TestCheck_UnknownBucketAlwaysAllowed(t *testing.T) {
	l := New()
	defer l.Stop()

	r := l.Check(BucketType("not_a_real_bucket"), "x")
	assert.True(t, r.Allowed)
}

func TestNew_UsesDefaultLimitsTable(t *testing.T) {
	l := New()
	defer l.Stop()

	r := l.Check(BucketAuthAttempts, "u1")
	assert.True(t, r.Allowed)
	assert.Equal(t, 10, r.Max)
}
