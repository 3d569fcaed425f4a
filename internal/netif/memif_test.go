package netif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectHandler 记录注入的包
type collectHandler struct {
	got [][]byte
}

func (h *collectHandler) OnInetPacket(pkt []byte) {
	h.got = append(h.got, pkt)
}

func TestMemIfInject(t *testing.T) {
	m := New("exit0")
	assert.Equal(t, "exit0", m.Name())

	// 没有回调时注入是空操作
	m.Inject([]byte{1})

	h := &collectHandler{}
	require.NoError(t, m.Start(h))
	m.Inject([]byte{2, 3})
	require.Len(t, h.got, 1)
	assert.Equal(t, []byte{2, 3}, h.got[0])
}

func TestMemIfWrite(t *testing.T) {
	m := New("exit0")
	pkt := []byte{0xAA, 0xBB}
	require.True(t, m.WritePacket(pkt))

	out := <-m.Outbound()
	assert.Equal(t, pkt, out)

	// 写出的是副本，改动原包不影响
	pkt[0] = 0
	assert.Equal(t, byte(0xAA), out[0])
}

func TestMemIfClose(t *testing.T) {
	m := New("exit0")
	require.NoError(t, m.Close())
	assert.False(t, m.WritePacket([]byte{1}))
	assert.ErrorIs(t, m.Start(&collectHandler{}), ErrClosed)
}
