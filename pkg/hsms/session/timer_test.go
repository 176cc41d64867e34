package session

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSet_PopsInDeadlineOrder(t *testing.T) {
	base := time.Now()
	ts := newTimerSet()
	ts.add(base.Add(30*time.Millisecond), timerT3, 1)
	id6 := ts.add(base.Add(10*time.Millisecond), timerT6, 2)
	ts.add(base.Add(20*time.Millisecond), timerT7, 0)

	at, ok := ts.next()
	require.True(t, ok)
	assert.Equal(t, base.Add(10*time.Millisecond), at)

	assert.Nil(t, ts.pop(base))

	e := ts.pop(base.Add(15 * time.Millisecond))
	require.NotNil(t, e)
	assert.Equal(t, id6, e.id)
	assert.Equal(t, timerT6, e.kind)
	assert.Equal(t, uint32(2), e.systemBytes)

	assert.Nil(t, ts.pop(base.Add(15*time.Millisecond)))

	e = ts.pop(base.Add(time.Second))
	require.NotNil(t, e)
	assert.Equal(t, timerT7, e.kind)
	e = ts.pop(base.Add(time.Second))
	require.NotNil(t, e)
	assert.Equal(t, timerT3, e.kind)
	assert.Nil(t, ts.pop(base.Add(time.Second)))
}

func TestTimerSet_CancelledEntriesNeverFire(t *testing.T) {
	base := time.Now()
	ts := newTimerSet()
	first := ts.add(base.Add(10*time.Millisecond), timerT6, 1)
	ts.add(base.Add(20*time.Millisecond), timerT6, 2)

	ts.cancel(first)

	at, ok := ts.next()
	require.True(t, ok)
	assert.Equal(t, base.Add(20*time.Millisecond), at)

	e := ts.pop(base.Add(time.Second))
	require.NotNil(t, e)
	assert.Equal(t, uint32(2), e.systemBytes)
	assert.Nil(t, ts.pop(base.Add(time.Second)))
}

func TestTimerSet_Clear(t *testing.T) {
	ts := newTimerSet()
	ts.add(time.Now().Add(time.Millisecond), timerT7, 0)
	ts.clear()
	_, ok := ts.next()
	assert.False(t, ok)
}

func TestAllocSystemBytes_SkipsOpenTransactions(t *testing.T) {
	m := &machine{
		table:       map[uint32]*transaction{5: {}, 6: {}},
		systemBytes: 5,
	}
	assert.Equal(t, uint32(7), m.allocSystemBytes())
}

func TestAllocSystemBytes_Wraparound(t *testing.T) {
	m := &machine{
		table:       map[uint32]*transaction{math.MaxUint32: {}},
		systemBytes: math.MaxUint32,
	}
	assert.Equal(t, uint32(0), m.allocSystemBytes())
}
