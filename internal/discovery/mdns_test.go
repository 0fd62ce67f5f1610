package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortFromAddr(t *testing.T) {
	tests := []struct {
		addr    string
		want    int
		wantErr bool
	}{
		{":3000", 3000, false},
		{"0.0.0.0:8080", 8080, false},
		{"[::1]:9000", 9000, false},
		{"3000", 0, true},
		{":http", 0, true},
		{":70000", 0, true},
	}
	for _, tt := range tests {
		got, err := PortFromAddr(tt.addr)
		if tt.wantErr {
			assert.Error(t, err, tt.addr)
			continue
		}
		require.NoError(t, err, tt.addr)
		assert.Equal(t, tt.want, got)
	}
}

func TestServerFromEntry(t *testing.T) {
	s, ok := serverFromEntry(&mdns.ServiceEntry{
		Name:       "studio._canvasflow._tcp.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       3000,
		InfoFields: []string{"rooms=2"},
	})
	require.True(t, ok)
	assert.Equal(t, "studio", s.Instance)
	assert.Equal(t, "192.168.1.20:3000", s.Addr)
	assert.Equal(t, "ws://192.168.1.20:3000/ws", s.URL())

	_, ok = serverFromEntry(&mdns.ServiceEntry{Name: "x", Port: 3000})
	assert.False(t, ok, "entries without an IPv4 address are skipped")
	_, ok = serverFromEntry(nil)
	assert.False(t, ok)
}

func TestFirstIPv4(t *testing.T) {
	assert.NotNil(t, firstIPv4().To4())
}
