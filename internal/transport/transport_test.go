package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"printlink-backend/internal/device"
	"printlink-backend/internal/transfer"
)

const helloX1 = `{"event":"hello","name":"Desk","serial_no":"SN1","device_model":"x1","version":"3.5.80"}`

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func nextEvent(t *testing.T, events <-chan device.Event) device.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return device.Event{}
	}
}

func assertNoEvent(t *testing.T, events <-chan device.Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

type deviceServer struct {
	*httptest.Server
	received chan []byte
	release  chan struct{}
}

// newDeviceServer accepts one websocket, sends hello, echoes inbound frames to
// received and hangs up once release is closed.
func newDeviceServer(t *testing.T) *deviceServer {
	t.Helper()
	ds := &deviceServer{received: make(chan []byte, 8), release: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		if !assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(helloX1))) {
			return
		}
		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				ds.received <- msg
			}
		}()
		<-ds.release
	}))
	t.Cleanup(ds.Close)
	return ds
}

func TestLocal_HelloCommandAndClose(t *testing.T) {
	ds := newDeviceServer(t)
	host, port := splitHostPort(t, ds.URL)

	l := NewLocal(LocalOptions{IP: host, Port: port})
	require.NoError(t, l.Connect(context.Background()))
	assert.True(t, l.IsAlive())

	ev := nextEvent(t, l.Events())
	assert.Equal(t, device.EventOpen, ev.Type)
	assert.Equal(t, "SN1", ev.Serial)
	assert.Equal(t, "Desk", l.Machine().View().Attributes.Name)

	require.NoError(t, l.Send(device.CmdChangeName, map[string]any{"name": "Bench"}))
	select {
	case msg := <-ds.received:
		assert.JSONEq(t, `{"request":"change_name","name":"Bench"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("device never received the command")
	}

	close(ds.release)
	ev = nextEvent(t, l.Events())
	assert.Equal(t, device.EventClose, ev.Type)
	assert.False(t, l.IsAlive())
	assert.ErrorIs(t, l.Send(device.CmdSayHi, nil), ErrNotConnected)
}

func TestLocal_CloseSuppressesCloseEvent(t *testing.T) {
	ds := newDeviceServer(t)
	defer close(ds.release)
	host, port := splitHostPort(t, ds.URL)

	l := NewLocal(LocalOptions{IP: host, Port: port})
	require.NoError(t, l.Connect(context.Background()))
	assert.Equal(t, device.EventOpen, nextEvent(t, l.Events()).Type)

	l.Close()
	l.Close()
	assertNoEvent(t, l.Events())
	assert.False(t, l.IsAlive())
}

func TestLocal_DialFailureEmitsClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	l := NewLocal(LocalOptions{IP: "127.0.0.1", Port: port, HandshakeTimeout: time.Second})
	assert.Error(t, l.Connect(context.Background()))
	assert.Equal(t, device.EventClose, nextEvent(t, l.Events()).Type)
}

type recordingUploader struct {
	mu   sync.Mutex
	jobs []transfer.Job
	err  error
}

func (r *recordingUploader) Upload(_ context.Context, job transfer.Job) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	if job.Progress != nil {
		job.Progress(device.UploadProgress{Percent: 100})
	}
	return r.err
}

func TestLocal_UploadSelectsProtocol(t *testing.T) {
	testCases := []struct {
		name     string
		hello    string
		wantHTTP bool
		wantTLS  bool
	}{
		{name: "ftp with tls", hello: `{"event":"hello","device_model":"x1"}`, wantTLS: true},
		{name: "ftp without tls", hello: `{"event":"hello","device_model":"z3"}`},
		{name: "http form", hello: `{"event":"hello","device_model":"x1","protocol":"http"}`, wantHTTP: true, wantTLS: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			httpUp, ftpUp := &recordingUploader{}, &recordingUploader{}
			l := NewLocal(LocalOptions{IP: "10.0.0.5", Port: 9294, HTTPUploader: httpUp, FTPUploader: ftpUp})
			l.Machine().HandleMessage([]byte(tc.hello))
			nextEvent(t, l.Events())

			require.NoError(t, l.Upload(context.Background(), "/tmp/job.zaxe", "job.zaxe"))

			used := ftpUp
			if tc.wantHTTP {
				used = httpUp
			}
			require.Len(t, used.jobs, 1)
			assert.Equal(t, "10.0.0.5", used.jobs[0].Host)
			assert.Equal(t, "job.zaxe", used.jobs[0].RemoteName)
			assert.Equal(t, tc.wantTLS, used.jobs[0].TLS)

			assert.Equal(t, "upload_start", nextEvent(t, l.Events()).Name)
			assert.Equal(t, "upload_progress", nextEvent(t, l.Events()).Name)
			assert.Equal(t, "upload_done", nextEvent(t, l.Events()).Name)
			assert.False(t, l.Machine().View().State.Uploading)
		})
	}
}

type flakyUploader struct {
	failures int
	calls    int
}

func (f *flakyUploader) Upload(context.Context, transfer.Job) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return nil
}

func TestLocal_UploadRetryPolicy(t *testing.T) {
	testCases := []struct {
		name      string
		policy    transfer.Policy
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{name: "zero policy tries once", failures: 1, wantCalls: 1, wantErr: true},
		{name: "retries until success", policy: transfer.Policy{Attempts: 3, Delay: time.Millisecond}, failures: 2, wantCalls: 3},
		{name: "gives up after attempts", policy: transfer.Policy{Attempts: 2, Delay: time.Millisecond}, failures: 5, wantCalls: 2, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			up := &flakyUploader{failures: tc.failures}
			l := NewLocal(LocalOptions{IP: "10.0.0.5", Port: 9294, FTPUploader: up, UploadPolicy: tc.policy})

			err := l.Upload(context.Background(), "/tmp/job.zaxe", "job.zaxe")
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, up.calls)
			assert.False(t, l.Machine().View().State.Uploading)
		})
	}
}

type fakeAvatars struct {
	calls int
	png   []byte
	err   error
}

func (f *fakeAvatars) Fetch(context.Context, string) ([]byte, error) {
	f.calls++
	return f.png, f.err
}

func TestLocal_DownloadAvatar(t *testing.T) {
	src := &fakeAvatars{png: []byte{0x89, 'P', 'N', 'G'}}
	l := NewLocal(LocalOptions{IP: "10.0.0.5", Snapshots: src})

	require.NoError(t, l.DownloadAvatar(context.Background()))
	assert.Equal(t, device.EventAvatarReady, nextEvent(t, l.Events()).Type)
	assert.Equal(t, src.png, l.Avatar())

	src.err = errors.New("no snapshot")
	assert.Error(t, l.DownloadAvatar(context.Background()))
	assertNoEvent(t, l.Events())

	l.avatarMu.Lock()
	assert.NoError(t, l.DownloadAvatar(context.Background()), "concurrent download is skipped")
	l.avatarMu.Unlock()
	assert.Equal(t, 2, src.calls)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ticker: &fakeTicker{ch: make(chan time.Time)}}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Ticker(time.Duration) Ticker { return c.ticker }

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()                  {}

func TestRemote_LivenessTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	relay := NewMockRelay(ctrl)
	clock := newFakeClock()

	var mu sync.Mutex
	var hellos int
	relay.EXPECT().Send(gomock.Any(), "SN1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, payload []byte) error {
			assert.JSONEq(t, `{"request":"send_hello"}`, string(payload))
			mu.Lock()
			hellos++
			mu.Unlock()
			return nil
		}).Times(2)

	r := NewRemote(RemoteOptions{Serial: "SN1", Relay: relay, Clock: clock})
	ctx := context.Background()

	r.Tick(ctx)
	assert.Equal(t, LivenessOffline, r.Status())
	assertNoEvent(t, r.Events())

	r.Deliver([]byte(helloX1))
	assert.Equal(t, device.EventOpen, nextEvent(t, r.Events()).Type)
	assert.True(t, r.IsAlive())

	r.Tick(ctx)
	assert.Equal(t, LivenessOnline, r.Status())
	ev := nextEvent(t, r.Events())
	assert.Equal(t, device.EventUpdate, ev.Type)
	assert.Equal(t, "hello", ev.Name)

	clock.Advance(11 * time.Second)
	assert.False(t, r.IsAlive())
	r.Tick(ctx)
	r.Tick(ctx)
	assert.Equal(t, LivenessOffline, r.Status())
	assert.Equal(t, device.EventClose, nextEvent(t, r.Events()).Type)
	assertNoEvent(t, r.Events())

	mu.Lock()
	assert.Equal(t, 2, hellos)
	mu.Unlock()
}

func TestRemote_RunLoopUsesClockTicker(t *testing.T) {
	ctrl := gomock.NewController(t)
	relay := NewMockRelay(ctrl)
	clock := newFakeClock()

	sent := make(chan struct{}, 4)
	relay.EXPECT().Send(gomock.Any(), "SN2", gomock.Any()).DoAndReturn(
		func(context.Context, string, []byte) error {
			sent <- struct{}{}
			return nil
		}).MinTimes(1)

	r := NewRemote(RemoteOptions{Serial: "SN2", Relay: relay, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Connect(ctx))

	clock.ticker.ch <- clock.Now()
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not request hello")
	}
	r.Close()
}

func TestRemote_InitAndUpload(t *testing.T) {
	ctrl := gomock.NewController(t)
	relay := NewMockRelay(ctrl)

	r := NewRemote(RemoteOptions{Serial: "SN3", Relay: relay, Clock: newFakeClock()})
	require.NoError(t, r.Init([]byte(`{"serial":"SN3","name":"Attic","model":"Z3","version":"3.5.80"}`)))
	view := r.Machine().View()
	assert.Equal(t, "Attic", view.Attributes.Name)
	assert.Equal(t, "z3", view.Attributes.Model)
	assert.True(t, view.Attributes.Capabilities.MultiPlate)
	assert.Error(t, r.Init([]byte("{")))

	relay.EXPECT().SendPrintJob(gomock.Any(), "SN3", "/tmp/a.zaxe").Return(nil)
	require.NoError(t, r.Upload(context.Background(), "/tmp/a.zaxe", "a.zaxe"))
	assert.True(t, r.Machine().View().State.Uploading)
	assert.Equal(t, "upload_start", nextEvent(t, r.Events()).Name)

	relay.EXPECT().SendPrintJob(gomock.Any(), "SN3", "/tmp/b.zaxe").Return(errors.New("relay down"))
	assert.Error(t, r.Upload(context.Background(), "/tmp/b.zaxe", "b.zaxe"))
	assert.False(t, r.Machine().View().State.Uploading)
	assert.Equal(t, "upload_start", nextEvent(t, r.Events()).Name)
	assert.Equal(t, "upload_failed", nextEvent(t, r.Events()).Name)

	assert.ErrorIs(t, r.DownloadAvatar(context.Background()), ErrAvatarUnavailable)
}
