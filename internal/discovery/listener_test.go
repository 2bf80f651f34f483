package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printlink-backend/internal/logger"
)

func TestDecode(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  Announcement
		expectErr bool
	}{
		{name: "numeric port", raw: `{"ip":"192.168.1.20","port":9294,"id":"ZX1"}`, expected: Announcement{IP: "192.168.1.20", Port: 9294, ID: "ZX1"}},
		{name: "string port", raw: `{"ip":"10.0.0.5","port":"9294","id":7}`, expected: Announcement{IP: "10.0.0.5", Port: 9294, ID: "7"}},
		{name: "not json", raw: `hello`, expectErr: true},
		{name: "missing ip", raw: `{"port":9294}`, expectErr: true},
		{name: "bad port", raw: `{"ip":"10.0.0.5","port":"x"}`, expectErr: true},
		{name: "port out of range", raw: `{"ip":"10.0.0.5","port":70000}`, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			if tc.expectErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestAnnouncementAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.5:9294", Announcement{IP: "10.0.0.5", Port: 9294}.Address())
}

func TestListener_ForwardsEveryValidDatagram(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	l := NewListener(conn.LocalAddr().String(), 1024, logger.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.serve(ctx, conn) }()

	sender, err := net.Dial("udp4", conn.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	for _, msg := range []string{
		`{"ip":"10.0.0.9","port":9294,"id":"a"}`,
		`garbage`,
		`{"ip":"10.0.0.9","port":9294,"id":"a"}`,
	} {
		_, err := sender.Write([]byte(msg))
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		select {
		case a := <-l.Announcements():
			assert.Equal(t, "10.0.0.9", a.IP)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for announcement")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	_, open := <-l.Announcements()
	assert.False(t, open)
}
