package forwarder

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwarderRelaysBytes(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	upstreamPort := upstream.Addr().(*net.TCPAddr).Port
	go func() {
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	localListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	localPort := localListener.Addr().(*net.TCPAddr).Port
	localListener.Close()

	f := New(localPort, "127.0.0.1", upstreamPort)
	require.NoError(t, f.Start())
	defer f.Stop()

	time.Sleep(50 * time.Millisecond)
	client, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestForwarderStartAddrInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	f := New(port, "127.0.0.1", 1)
	err = f.Start()
	assert.Error(t, err)
}
