package internal

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"printlink-backend/config"
	"printlink-backend/internal/api"
	"printlink-backend/internal/db"
	"printlink-backend/internal/discovery"
	"printlink-backend/internal/logger"
	"printlink-backend/internal/model"
	"printlink-backend/internal/registry"
	"printlink-backend/internal/store"
	"printlink-backend/internal/transport"
)

const printerHello = `{"event":"hello","name":"Workshop","serial_no":"ZXINT1","device_model":"x1",
"version":"3.5.80","material":"zaxe_abs","nozzle":"0.4","is_filament_present":"True"}`

// printer is a websocket device that says hello, records requests and
// reports printing after a pause command.
type printer struct {
	*httptest.Server
	requests chan string
	hangup   chan struct{}
}

func newPrinter(t *testing.T) *printer {
	t.Helper()
	p := &printer{requests: make(chan string, 8), hangup: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(printerHello))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"states_update","is_printing":"True","is_filament_present":"True"}`))

		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var req struct {
					Request string `json:"request"`
				}
				json.Unmarshal(msg, &req)
				p.requests <- req.Request
			}
		}()
		<-p.hangup
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *printer) address(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(p.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// TestPrinterLifecycle follows one printer from its broadcast to a command sent
// through the API and back to offline, checking persisted state along the way.
func TestPrinterLifecycle(t *testing.T) {
	// --- Test Setup ---
	testDB, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(testDB))

	appStore := store.NewGormStore(testDB)
	cfg := config.Default()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	log := logger.NewTestLogger()

	reg := registry.New(registry.Deps{
		Factory: registry.NewFactory(cfg, nil, transport.RealClock(), log),
		Store:   appStore,
		Logger:  log,
	}, registry.Options{UploadDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	router := api.NewRouter(api.NewHandler(api.Deps{Store: appStore, Devices: reg, Logger: log}), cfg.Server)
	p := newPrinter(t)
	host, port := p.address(t)

	t.Run("Broadcast connects the printer", func(t *testing.T) {
		datagram := []byte(`{"ip":"` + host + `","port":"` + strconv.Itoa(port) + `","id":"ZXINT1"}`)
		a, err := discovery.Decode(datagram)
		require.NoError(t, err)
		assert.True(t, reg.HandleAnnouncement(a))
		assert.False(t, reg.HandleAnnouncement(a), "a second broadcast must not open another connection")

		require.Eventually(t, func() bool {
			v, err := reg.Get("ZXINT1")
			return err == nil && v.Online && v.Busy
		}, 2*time.Second, 10*time.Millisecond)

		var stored model.Device
		require.NoError(t, testDB.First(&stored, "serial = ?", "ZXINT1").Error)
		assert.Equal(t, "Workshop", stored.Name)
		assert.Equal(t, "x1", stored.Model)
		assert.Equal(t, host, stored.IP)
		assert.Equal(t, "local", stored.Transport)
	})

	t.Run("API lists and commands the printer", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/devices?filter=busy", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var views []registry.DeviceView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
		require.Len(t, views, 1)
		assert.Equal(t, "Workshop", views[0].Attributes.Name)

		w = httptest.NewRecorder()
		req, _ = http.NewRequest(http.MethodPost, "/api/devices/ZXINT1/commands", strings.NewReader(`{"command":"pause"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)

		select {
		case got := <-p.requests:
			assert.Equal(t, "pause", got)
		case <-time.After(2 * time.Second):
			t.Fatal("printer never received the command")
		}
	})

	t.Run("Hang up leaves the printer known but offline", func(t *testing.T) {
		close(p.hangup)

		require.Eventually(t, func() bool {
			v, err := reg.Get("ZXINT1")
			return err == nil && !v.Online
		}, 2*time.Second, 10*time.Millisecond)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/api/devices/ZXINT1/commands", strings.NewReader(`{"command":"resume"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
