package heading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseHeadingPayload(t *testing.T) {
	v, err := ParseHeadingPayload([]byte(`{"heading": 123.5}`))
	require.NoError(t, err)
	require.Equal(t, 123.5, v)

	v, err = ParseHeadingPayload([]byte(" 42\n"))
	require.NoError(t, err)
	require.Equal(t, 42.0, v)

	_, err = ParseHeadingPayload([]byte(`{"course": 1}`))
	require.Error(t, err)

	_, err = ParseHeadingPayload([]byte(`{"heading":`))
	require.Error(t, err)

	_, err = ParseHeadingPayload([]byte("north"))
	require.Error(t, err)
}

func TestMQTTCompassThrottle(t *testing.T) {
	c := NewMQTTCompass(nil, "compass/heading")
	require.False(t, c.Available())

	var got []float64
	c.cb = func(v float64) { got = append(got, v) }
	c.interval = 100 * time.Millisecond

	now := time.Now()
	c.deliver([]byte("10"), now)
	c.deliver([]byte("11"), now.Add(50*time.Millisecond))
	c.deliver([]byte("bad"), now.Add(120*time.Millisecond))
	c.deliver([]byte(`{"heading": 12}`), now.Add(150*time.Millisecond))
	require.Equal(t, []float64{10, 12}, got)
}
