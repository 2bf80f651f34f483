package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"

	"printlink-backend/internal/device"
	"printlink-backend/internal/logger"
	"printlink-backend/internal/model"
	"printlink-backend/internal/registry"
	"printlink-backend/internal/store"
	"printlink-backend/internal/transport"
)

// Devices is the part of the registry the API serves.
type Devices interface {
	List(filter registry.Filter, search string) []registry.DeviceView
	Get(serial string) (registry.DeviceView, error)
	AddManual(ip string, port int) (bool, error)
	SendCommand(serial string, cmd device.Command, extra map[string]any) error
	SwitchTransport(serial string) (transport.Kind, error)
	Avatar(serial string) ([]byte, error)
	Print(ctx context.Context, serial string, req registry.PrintRequest) (*model.PrintJob, error)
	Subscribe() (<-chan device.Event, func())
}

// FirmwareVersions lists the latest firmware per model.
type FirmwareVersions interface {
	Snapshot() map[string]string
}

// ArchiveOptions are stamped into archives built through the API.
type ArchiveOptions struct {
	OutputDir     string
	UploadDir     string
	SlicerVersion string
	AppVersion    string
}

// Deps are the dependencies of the API handlers.
type Deps struct {
	Store    store.Store
	Devices  Devices
	Firmware FirmwareVersions
	Archives ArchiveOptions
	WebPush  *webpush.Options
	Logger   logger.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	devices  Devices
	firmware FirmwareVersions
	archives ArchiveOptions
	webpush  *webpush.Options
	log      logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logger.NewTestLogger()
	}
	return &Handler{
		store:    deps.Store,
		devices:  deps.Devices,
		firmware: deps.Firmware,
		archives: deps.Archives,
		webpush:  deps.WebPush,
		log:      deps.Logger.WithComponent("api"),
	}
}
