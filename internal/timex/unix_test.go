package timex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnixNanoRoundTrip(t *testing.T) {
	assert.EqualValues(t, 0, ToUnixNano(time.Time{}))
	assert.True(t, FromUnixNano(0).IsZero())

	ts := time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC)
	assert.Equal(t, ts, FromUnixNano(ToUnixNano(ts)))
}
