package presence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConn struct{ delivered [][]byte }

func (f *fakeConn) Deliver(p []byte) bool {
	f.delivered = append(f.delivered, p)
	return true
}

func TestConnectOnline(t *testing.T) {
	d := NewDirectory()
	c := &fakeConn{}

	_, ok := d.Online(7)
	require.False(t, ok)

	d.Connect(7, c)
	got, ok := d.Online(7)
	require.True(t, ok)
	require.Same(t, c, got)
	require.True(t, d.Known(7))
}

func TestInactiveSuppressesOnline(t *testing.T) {
	d := NewDirectory()
	c := &fakeConn{}
	d.Connect(7, c)

	d.SetActive(7, false)
	_, ok := d.Online(7)
	require.False(t, ok)
	require.True(t, d.Known(7))

	d.SetActive(7, true)
	_, ok = d.Online(7)
	require.True(t, ok)
}

func TestDisconnectMatchesHandle(t *testing.T) {
	d := NewDirectory()
	old := &fakeConn{}
	fresh := &fakeConn{}

	d.Connect(7, old)
	d.Connect(7, fresh)

	// A late disconnect of the replaced handle must not evict the new one.
	d.Disconnect(7, old)
	got, ok := d.Online(7)
	require.True(t, ok)
	require.Same(t, fresh, got)

	d.Disconnect(7, fresh)
	require.False(t, d.Known(7))
}

func TestSetActiveUnknownUser(t *testing.T) {
	d := NewDirectory()
	d.SetActive(42, true)
	require.False(t, d.Known(42))
}
