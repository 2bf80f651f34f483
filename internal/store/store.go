package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"printlink-backend/internal/model"
)

var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	UpsertDevice(ctx context.Context, d model.Device) error
	ListDevices(ctx context.Context) ([]model.Device, error)

	CreatePrintJob(ctx context.Context, job *model.PrintJob) error
	FinishPrintJob(ctx context.Context, id uuid.UUID, status model.PrintJobStatus, errMsg string, at time.Time) error
	RecentPrintJobs(ctx context.Context, serial string, limit int) ([]model.PrintJob, error)

	SaveSubscription(ctx context.Context, sub model.PushSubscription, serials []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForDevice(ctx context.Context, serial string) ([]model.PushSubscription, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// UpsertDevice inserts a device or refreshes its identity, address and last
// seen time.
func (s *gormStore) UpsertDevice(ctx context.Context, d model.Device) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "model", "ip", "port", "transport", "firmware", "last_seen_at", "updated_at"}),
	}).Create(&d).Error
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.Serial, err)
	}
	return nil
}

func (s *gormStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Order("serial").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// CreatePrintJob stores a new job in the uploading state. A zero ID is
// replaced by a fresh UUID.
func (s *gormStore) CreatePrintJob(ctx context.Context, job *model.PrintJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = model.PrintJobUploading
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create print job: %w", err)
	}
	return nil
}

func (s *gormStore) FinishPrintJob(ctx context.Context, id uuid.UUID, status model.PrintJobStatus, errMsg string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.PrintJob{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "error": errMsg, "finished_at": at})
	if res.Error != nil {
		return fmt.Errorf("finish print job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) RecentPrintJobs(ctx context.Context, serial string, limit int) ([]model.PrintJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []model.PrintJob
	err := s.db.WithContext(ctx).
		Where("device_serial = ?", serial).
		Order("started_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list print jobs for %s: %w", serial, err)
	}
	return jobs, nil
}

// SaveSubscription creates or replaces a subscription and its device set.
// Unknown serials are ignored.
func (s *gormStore) SaveSubscription(ctx context.Context, sub model.PushSubscription, serials []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(&sub).Error; err != nil {
			return err
		}

		var devices []model.Device
		if len(serials) > 0 {
			if err := tx.Where("serial IN ?", serials).Find(&devices).Error; err != nil {
				return err
			}
		}

		return tx.Model(&sub).Association("Devices").Replace(&devices)
	})
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).Preload("Devices").First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Select("Devices").Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

// SubscriptionsForDevice returns every subscription watching serial.
func (s *gormStore) SubscriptionsForDevice(ctx context.Context, serial string) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.device_serial = ?", serial).
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("subscriptions for %s: %w", serial, err)
	}
	return subscriptions, nil
}
