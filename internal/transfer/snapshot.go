package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net"
	"strconv"

	"github.com/cenkalti/backoff/v5"

	"printlink-backend/internal/logger"
)

var ErrInvalidSnapshot = errors.New("snapshot is not a valid png")

// FetchFunc performs one snapshot download attempt.
type FetchFunc func(ctx context.Context) ([]byte, error)

// RetryFetch runs fetch under the snapshot policy.
func RetryFetch(ctx context.Context, policy Policy, fetch FetchFunc, log logger.Logger) ([]byte, error) {
	return Retry(ctx, OpSnapshot, policy, fetch, log)
}

// Retry runs fn under policy: a constant delay between attempts and a
// per-attempt timeout. The last error is returned when every attempt fails.
func Retry[T any](ctx context.Context, op Operation, policy Policy, fn func(ctx context.Context) (T, error), log logger.Logger) (T, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	attempt := 0
	try := func() (T, error) {
		attempt++
		actx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}
		v, err := fn(actx)
		if err != nil {
			log.Warn().Err(err).Str("op", string(op)).Int("attempt", attempt).Msg("transfer attempt failed")
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, try,
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Delay)),
		backoff.WithMaxTries(uint(policy.Attempts)),
	)
	if err != nil {
		log.Error().Err(err).Str("op", string(op)).Int("attempts", attempt).Msg("transfer failed")
		var zero T
		return zero, fmt.Errorf("%s after %d attempts: %w", op, attempt, err)
	}
	return v, nil
}

// SnapshotFetcher downloads the device camera snapshot over anonymous FTP.
type SnapshotFetcher struct {
	dial   FTPDialer
	port   int
	name   string
	policy Policy
	log    logger.Logger
}

// NewSnapshotFetcher creates a fetcher for the file name on every device.
func NewSnapshotFetcher(dial FTPDialer, port int, name string, policy Policy, log logger.Logger) *SnapshotFetcher {
	return &SnapshotFetcher{
		dial:   dial,
		port:   port,
		name:   name,
		policy: policy,
		log:    log.WithComponent("snapshot"),
	}
}

// Fetch downloads and validates the snapshot from host.
func (s *SnapshotFetcher) Fetch(ctx context.Context, host string) ([]byte, error) {
	return RetryFetch(ctx, s.policy, func(ctx context.Context) ([]byte, error) {
		return s.fetchOnce(ctx, host)
	}, s.log)
}

func (s *SnapshotFetcher) fetchOnce(ctx context.Context, host string) ([]byte, error) {
	conn, err := s.dial(ctx, net.JoinHostPort(host, strconv.Itoa(s.port)), nil)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, err
	}
	r, err := conn.Retr(s.name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if _, err := png.DecodeConfig(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return b, nil
}
