package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// AwaitNotification waits on stream for a notification from ep that accept
// approves. Rejected notifications on ep are reported as garbled.
func AwaitNotification(ctx context.Context, stream <-chan hardware.Event, ep hardware.Endpoint, timeout time.Duration, accept func([]byte) bool) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w: no reply on %s after %s", hardware.ErrTimeout, ep, timeout)
		case ev, ok := <-stream:
			if !ok || ev.Kind == hardware.EventDisconnected {
				return nil, hardware.ErrDisconnected
			}
			if ev.Endpoint != ep {
				continue
			}
			if accept != nil && !accept(ev.Data) {
				return ev.Data, errGarbled
			}
			return ev.Data, nil
		}
	}
}

var errGarbled = errors.New("garbled reply")

// RequestReply writes request and waits for an accepted reply on ep. Timeouts
// and garbled replies are retried up to attempts times in total.
func RequestReply(ctx context.Context, hw *hardware.Hardware, request []hardware.Command, ep hardware.Endpoint, timeout time.Duration, attempts int, accept func([]byte) bool) ([]byte, error) {
	if attempts < 1 {
		attempts = 1
	}
	stream := hw.EventStream()
	defer hw.ReleaseEventStream(stream)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		for _, cmd := range request {
			if _, err := hw.Exec(ctx, cmd); err != nil {
				return nil, err
			}
		}
		data, err := AwaitNotification(ctx, stream, ep, timeout, accept)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, hardware.ErrDisconnected) || ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, errGarbled) {
			log.Debug().
				Str("address", hw.Address()).
				Hex("data", data).
				Int("attempt", attempt).
				Msg("Discarding garbled reply")
			lastErr = fmt.Errorf("%w: unexpected reply %x", ErrHandshake, data)
			continue
		}
		lastErr = err
	}
	return nil, lastErr
}
