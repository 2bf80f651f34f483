package registry

import (
	"context"
	"fmt"
	"path/filepath"

	"printlink-backend/internal/archive"
	"printlink-backend/internal/model"
	"printlink-backend/internal/transport"
)

// PrintRequest asks a device to print a prepared archive.
type PrintRequest struct {
	ArchivePath string
	Force       bool
}

// Print checks the archive against the device and starts the upload in the
// background. The returned job is still uploading.
func (r *Registry) Print(ctx context.Context, serial string, req PrintRequest) (*model.PrintJob, error) {
	conn, err := r.connection(serial)
	if err != nil {
		return nil, err
	}

	manifest, err := archive.ReadManifest(req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	view := conn.Machine().View()
	if err := CheckPrint(view, manifest, req.Force); err != nil {
		return nil, err
	}

	file := req.ArchivePath
	if view.Attributes.Capabilities.Lite && conn.Kind() == transport.KindLocal {
		if file, err = archive.ExtractGCode(req.ArchivePath, r.opts.UploadDir); err != nil {
			return nil, fmt.Errorf("extract gcode: %w", err)
		}
	}

	job := &model.PrintJob{
		DeviceSerial: serial,
		File:         filepath.Base(file),
		Transport:    string(conn.Kind()),
		Status:       model.PrintJobUploading,
		StartedAt:    r.opts.Now(),
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.CreatePrintJob(ctx, job); err != nil {
			return nil, fmt.Errorf("record print job: %w", err)
		}
	}

	r.log.Info().Str("serial", serial).Str("file", job.File).Str("transport", job.Transport).Msg("starting upload")
	go r.upload(conn, job, file)
	return job, nil
}

func (r *Registry) upload(conn transport.Connection, job *model.PrintJob, file string) {
	status, msg := model.PrintJobDone, ""
	if err := conn.Upload(r.ctx, file, filepath.Base(file)); err != nil {
		status, msg = model.PrintJobFailed, err.Error()
		r.log.Error().Err(err).Str("serial", job.DeviceSerial).Str("file", job.File).Msg("upload failed")
	} else {
		r.log.Info().Str("serial", job.DeviceSerial).Str("file", job.File).Msg("upload finished")
	}

	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.FinishPrintJob(context.Background(), job.ID, status, msg, r.opts.Now()); err != nil {
		r.log.Error().Err(err).Str("job", job.ID.String()).Msg("failed to record upload result")
	}
}
