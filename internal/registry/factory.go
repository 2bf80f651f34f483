package registry

import (
	"net/http"
	"time"

	"printlink-backend/config"
	"printlink-backend/internal/device"
	"printlink-backend/internal/logger"
	"printlink-backend/internal/transfer"
	"printlink-backend/internal/transport"
)

const ftpDialTimeout = 10 * time.Second

// NewFactory wires device connections from configuration. relay may be nil,
// in which case no remote connections are built.
func NewFactory(cfg *config.Config, relay transport.Relay, clock transport.Clock, log logger.Logger) Factory {
	machineOpts := func() device.Options {
		return device.Options{
			LegacyFilamentPresent: *cfg.Device.LegacyFilamentPresent,
			EventBuffer:           cfg.Device.EventBuffer,
		}
	}

	httpUploader := transfer.NewHTTPUploader(&http.Client{}, cfg.Transfer.HTTPPort, cfg.Transfer.HTTPUploadPath)
	ftpUploader := transfer.NewFTPUploader(transfer.DialFTP(ftpDialTimeout), cfg.Transfer.FTPPort, cfg.Transfer.FTPUser, cfg.Transfer.FTPPassword)

	policies := TransferPolicies(cfg.Transfer)
	snapshots := transfer.NewSnapshotFetcher(transfer.DialFTP(cfg.Transfer.SnapshotTimeout), cfg.Transfer.FTPPort,
		cfg.Transfer.SnapshotName, transfer.PolicyFor(policies, transfer.OpSnapshot), log)

	f := Factory{
		Local: func(ip string, port int) transport.Connection {
			return transport.NewLocal(transport.LocalOptions{
				IP:           ip,
				Port:         port,
				IdleTimeout:  cfg.Device.IdleTimeout,
				Machine:      machineOpts(),
				HTTPUploader: httpUploader,
				FTPUploader:  ftpUploader,
				UploadPolicy: transfer.PolicyFor(policies, transfer.OpUpload),
				Snapshots:    snapshots,
				Logger:       log,
			})
		},
	}
	if relay != nil {
		f.Remote = func(serial string) RemoteConnection {
			return transport.NewRemote(transport.RemoteOptions{
				Serial:       serial,
				Relay:        relay,
				Clock:        clock,
				Interval:     cfg.Device.LivenessInterval,
				AliveTimeout: cfg.Device.AliveTimeout,
				Machine:      machineOpts(),
				Logger:       log,
			})
		}
	}
	return f
}

// TransferPolicies applies the configured retry settings over the defaults.
func TransferPolicies(cfg config.TransferConfig) map[transfer.Operation]transfer.Policy {
	return transfer.Policies(map[transfer.Operation]transfer.Policy{
		transfer.OpUpload: {
			Attempts: cfg.UploadAttempts,
			Timeout:  cfg.UploadTimeout,
		},
		transfer.OpSnapshot: {
			Attempts: cfg.SnapshotAttempts,
			Delay:    cfg.SnapshotDelay,
			Timeout:  cfg.SnapshotTimeout,
		},
	})
}
