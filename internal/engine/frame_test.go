package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartFrameDefaults(t *testing.T) {
	e := newTestEngine(t)

	f, err := e.StartFrame()
	require.NoError(t, err)
	assert.Equal(t, DefaultFrameBudget, f.Budget)
	assert.False(t, f.Complete)
	assert.Empty(t, f.Packets)
	assert.False(t, f.StartedAt.IsZero())
}

func TestFrameStateMachineStrict(t *testing.T) {
	e := newTestEngine(t)

	// 没有进行中的帧时 CompleteFrame 报错
	_, err := e.CompleteFrame()
	require.ErrorIs(t, err, ErrNoActiveFrame)

	_, err = e.StartFrame()
	require.NoError(t, err)

	// 叠加开帧报错，不隐式顶替
	_, err = e.StartFrame()
	require.ErrorIs(t, err, ErrFrameActive)

	_, err = e.CompleteFrame()
	require.NoError(t, err)

	// 完成后可以再开
	_, err = e.StartFrame()
	require.NoError(t, err)
}

func TestFrameLatencySLA(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 10; i++ {
		_, err := e.StartFrame()
		require.NoError(t, err)
		_, err = e.CompleteFrame()
		require.NoError(t, err)
	}

	avg := e.AverageLatency()
	assert.Greater(t, avg, time.Duration(0))
	assert.Less(t, avg, DefaultFrameBudget)
	assert.True(t, e.MeetsLatencyRequirement())
}

func TestIsFrameOverBudget(t *testing.T) {
	e, err := New(Config{FrameBudget: time.Millisecond})
	require.NoError(t, err)

	// 没有进行中的帧时恒为 false
	assert.False(t, e.IsFrameOverBudget())

	_, err = e.StartFrame()
	require.NoError(t, err)
	assert.False(t, e.IsFrameOverBudget())

	time.Sleep(3 * time.Millisecond)
	assert.True(t, e.IsFrameOverBudget())

	elapsed, err := e.CompleteFrame()
	require.NoError(t, err)
	assert.Greater(t, elapsed, time.Millisecond)

	// 平均耗时超预算，SLA 不达标
	assert.False(t, e.MeetsLatencyRequirement())
}

func TestTrackPacket(t *testing.T) {
	e := newTestEngine(t)

	// 无帧时是 no-op
	e.TrackPacket("pkt-0")

	_, err := e.StartFrame()
	require.NoError(t, err)
	e.TrackPacket("pkt-1")
	e.TrackPacket("pkt-2")

	f, ok := e.ActiveFrame()
	require.True(t, ok)
	assert.Equal(t, []string{"pkt-1", "pkt-2"}, f.Packets)
}

func TestLatencyHistoryBounded(t *testing.T) {
	e, err := New(Config{LatencyHistorySize: 4})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := e.StartFrame()
		require.NoError(t, err)
		_, err = e.CompleteFrame()
		require.NoError(t, err)
	}
	// 环形缓冲只保留最近 4 个样本，平均值仍然有效
	assert.Greater(t, e.AverageLatency(), time.Duration(0))
	assert.True(t, e.MeetsLatencyRequirement())
}

func TestAverageLatencyEmpty(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, time.Duration(0), e.AverageLatency())
	// 没有样本时视为达标
	assert.True(t, e.MeetsLatencyRequirement())
}
