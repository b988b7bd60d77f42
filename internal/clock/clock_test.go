package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockFiresInDeadlineOrder(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	m.AfterFunc(5*time.Second, func() { order = append(order, "c") })

	m.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, m.Pending())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, m.Pending())
}

func TestMockStop(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })

	require.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	m.Advance(time.Minute)
	assert.False(t, fired)
}

func TestMockAfter(t *testing.T) {
	start := time.Unix(100, 0)
	m := NewMock(start)
	ch := m.After(time.Second)

	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	m.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(time.Second), got)
	default:
		t.Fatal("did not fire")
	}
}

func TestOrReal(t *testing.T) {
	assert.IsType(t, Real{}, OrReal(nil))
	m := NewMock(time.Now())
	assert.Same(t, m, OrReal(m))
}
