package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(ShardUploads)
	ShardUploads.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ShardUploads))

	c := SyncCycles.WithLabelValues("pull", ResultNoop)
	before = testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
