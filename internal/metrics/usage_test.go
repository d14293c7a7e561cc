package metrics

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/loykin/keepr/internal/process"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageCollectorCollect(t *testing.T) {
	require.NoError(t, RegisterUsage(prometheus.NewRegistry()))
	c := NewUsageCollector(time.Hour, nil)
	c.sample = func(pid int) (process.Usage, error) {
		if pid == 2 {
			return process.Usage{}, errors.New("gone")
		}
		return process.Usage{RSSBytes: uint64(pid) * 1024, CPUPercent: 1.5, Threads: 3}, nil
	}

	c.Collect(map[string]int{"a": 1, "b": 2, "c": 0})
	u, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(1024), u.RSSBytes)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Len(t, c.All(), 1)
	assert.Equal(t, float64(1024), testutil.ToFloat64(usageRSS.WithLabelValues("a")))

	c.Collect(map[string]int{})
	assert.Empty(t, c.All())
}

func TestUsageCollectorSamplesSelf(t *testing.T) {
	c := NewUsageCollector(10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx, func() map[string]int { return map[string]int{"self": os.Getpid()} })
	require.Eventually(t, func() bool {
		u, ok := c.Get("self")
		return ok && u.RSSBytes > 0
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()
	c.Stop()
}
