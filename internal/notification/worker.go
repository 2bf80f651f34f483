package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"printlink-backend/internal/logger"
	"printlink-backend/internal/model"
	"printlink-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job is one device notification fanned out to every watching subscription.
type Job struct {
	Serial  string `json:"serial"`
	Name    string `json:"title"`
	Message string `json:"body"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     logger.Logger
}

// NewWorkerPool creates a new worker pool with room for queueSize pending jobs.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options, log logger.Logger) *WorkerPool {
	if queueSize < size {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log.WithComponent("notification"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForDevice(ctx, job)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// Dispatch queues a job without blocking. The job is dropped when the queue
// is full or ctx is done.
func (wp *WorkerPool) Dispatch(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	select {
	case wp.jobs <- job:
	default:
		wp.log.Warn().Str("serial", job.Serial).Str("message", job.Message).Msg("notification queue full, dropping job")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

func (wp *WorkerPool) sendNotificationsForDevice(ctx context.Context, job Job) {
	subscriptions, err := wp.store.SubscriptionsForDevice(ctx, job.Serial)
	if err != nil {
		wp.log.Error().Err(err).Str("serial", job.Serial).Msg("failed to fetch subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	if job.Name == "" {
		job.Name = job.Serial
	}
	payload, err := json.Marshal(job)
	if err != nil {
		wp.log.Error().Err(err).Msg("failed to encode notification")
		return
	}

	wp.log.Info().Int("count", len(subscriptions)).Str("serial", job.Serial).Msg("sending notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("error sending notification")
		return
	}
	defer resp.Body.Close()

	// Expired subscription.
	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
