package pkg

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPIsLocal(t *testing.T) {
	cases := []struct {
		addr            string
		expectedIsLocal bool
	}{
		{addr: "127.0.0.1:8080", expectedIsLocal: true},
		{addr: "127.0.0.1:35325", expectedIsLocal: true},
		{addr: "127.23.0.1:35325", expectedIsLocal: false},
		{addr: "172.17.0.1:60102", expectedIsLocal: true},
		{addr: "172.200.0.1:60096", expectedIsLocal: true},
		{addr: "172.17.1.1:60102", expectedIsLocal: false},
		{addr: "95.90.24.116:51034", expectedIsLocal: false},
		{addr: "10.0.0.5:443", expectedIsLocal: false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expectedIsLocal, IPIsLocal(tc.addr), "addr: %s", tc.addr)
	}
}

func TestReadUserIP(t *testing.T) {
	r, err := http.NewRequest("GET", "/settings/1", nil)
	require.NoError(t, err)

	r.RemoteAddr = "95.90.24.116:51034"
	ip, err := ReadUserIP(r)
	require.NoError(t, err)
	assert.Equal(t, "95.90.24.116", ip)

	r.Header.Set("X-Forwarded-For", "203.0.113.42")
	ip, err = ReadUserIP(r)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.42", ip)

	r.Header.Set("X-Real-Ip", "198.51.100.7")
	ip, err = ReadUserIP(r)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestReadUserIP_local(t *testing.T) {
	r, err := http.NewRequest("GET", "/settings/1", nil)
	require.NoError(t, err)

	r.RemoteAddr = "127.0.0.1:51034"
	ip, err := ReadUserIP(r)
	require.NoError(t, err)
	assert.Equal(t, "localhost", ip)
}

func TestReadUserIP_invalid(t *testing.T) {
	r, err := http.NewRequest("GET", "/settings/1", nil)
	require.NoError(t, err)

	r.RemoteAddr = "not-an-ip"
	_, err = ReadUserIP(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is invalid")
}
