package replane

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// DeliveryHandler is invoked once per delivery with the raw entries
// that arrived; the caller (Client) applies them to the Store and fans
// out notifications. Returning here does not imply the Store has been
// updated: the Transport's job ends at "here is a delivery," not at
// "here is what changed," which belongs to the caller holding the
// Store.
type DeliveryHandler func(entries []Entry)

// StartLiveChannel opens the long-lived live channel and calls handler
// once per delivery until ctx is canceled or Close is called. It never
// returns early on a transient failure: reconnection is indefinite
// while the client is not closed.
//
// StartLiveChannel spawns exactly one background goroutine and returns
// immediately; Close blocks until that goroutine has exited.
func (t *Transport) StartLiveChannel(ctx context.Context, handler DeliveryHandler) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.stopStream = make(chan struct{})
	t.streamDone = make(chan struct{})
	stop := t.stopStream
	done := t.streamDone
	t.mu.Unlock()

	go func() {
		defer close(done)
		t.connectLoop(ctx, stop, handler)
	}()
}

// connectLoop is the reconnect/backoff/inactivity-watchdog policy.
// Each iteration is one connection attempt; a connection that ends
// (error, server close, non-2xx, inactivity) schedules another attempt
// after retryDelay unless stop has fired.
func (t *Transport) connectLoop(ctx context.Context, stop <-chan struct{}, handler DeliveryHandler) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := t.runOneConnection(ctx, stop, handler)
		if err != nil {
			t.logger.Debug("live channel connection ended, will reconnect", "error", err, "retry_delay", t.retryDelay)
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(t.retryDelay):
		}
	}
}

// runOneConnection opens one streaming GET and reads deliveries from it
// until the connection ends, the inactivity watchdog fires, or stop is
// signaled. On return, the caller schedules a reconnect: at-least-once
// convergence means every reconnect resynchronizes by refetching the
// full set before resuming incremental deliveries.
func (t *Transport) runOneConnection(ctx context.Context, stop <-chan struct{}, handler DeliveryHandler) error {
	connCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelActive = cancel
	t.mu.Unlock()
	defer func() {
		cancel()
		t.mu.Lock()
		t.cancelActive = nil
		t.mu.Unlock()
	}()

	// Baseline resync on every (re)connect: refetch the full set so the
	// Store converges even if the server can't replay from where we
	// left off. Entries it returns go through the same handler as
	// incremental deliveries, so this is one delivery like any other.
	resyncCtx, resyncCancel := context.WithTimeout(connCtx, t.requestTimeout)
	entries, err := t.fetchInitialLoad(resyncCtx, t.preferredForThisAttempt())
	resyncCancel()
	if err != nil {
		return err
	}
	handler(entries)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, t.preferredForThisAttempt()+liveChannelPath, nil)
	if err != nil {
		return errNetwork(err)
	}
	t.addHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return errNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errInvalidSDKKey(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errRequestFailed(resp.StatusCode, "")
	}

	return t.readDeliveries(connCtx, stop, resp.Body, handler)
}

// preferredForThisAttempt is the first entry of orderedEndpoints;
// pulled out for readability at the two call sites in runOneConnection.
func (t *Transport) preferredForThisAttempt() string {
	return t.orderedEndpoints()[0]
}

// readDeliveries scans newline-delimited JSON records off body. A blank
// line is a heartbeat: it resets the inactivity watchdog but carries no
// delivery. Activity is counted per complete line, heartbeat or record;
// bytes of a line whose newline has not yet arrived do not reset the
// watchdog.
func (t *Transport) readDeliveries(ctx context.Context, stop <-chan struct{}, body io.Reader, handler DeliveryHandler) error {
	lines := make(chan []byte, 1)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	watchdog := time.NewTimer(t.inactivityTimeout)
	defer watchdog.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-watchdog.C:
			return errNetwork(errInactivityWatchdog)
		case err := <-readErr:
			if err != nil {
				return errNetwork(err)
			}
			return errNetwork(errStreamClosedByServer)
		case line := <-lines:
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(t.inactivityTimeout)

			if len(line) == 0 {
				continue // heartbeat
			}
			d, err := decodeDelivery(line)
			if err != nil {
				t.logger.Warn("discarding malformed delivery record", "error", err)
				continue
			}
			handler(d.Configs)
		}
	}
}

func decodeDelivery(line []byte) (delivery, error) {
	var d delivery
	err := json.Unmarshal(line, &d)
	return d, err
}

var (
	errInactivityWatchdog   = errors.New("no line received within inactivity timeout")
	errStreamClosedByServer = errors.New("live channel closed by server")
)

// Close aborts any in-flight request and the live channel atomically;
// no further upserts are applied after Close returns. Idempotent.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.cancelActive != nil {
		t.cancelActive()
	}
	stop := t.stopStream
	done := t.streamDone
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
}
