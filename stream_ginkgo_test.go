package replane_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/replane-dev/replane-go"
	"github.com/replane-dev/replane-go/internal/transporttest"
)

// This spec exercises the live channel's reconnect/backoff/inactivity
// policy, properties that are awkward to assert with a table of
// testify cases because they unfold over time across several
// connection attempts, so a BDD-style spec narrates them as a sequence
// of events instead.
var _ = Describe("live channel reconnection", func() {
	var (
		ctrl   *gomock.Controller
		doer   *transporttest.MockHTTPDoer
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		doer = transporttest.NewMockHTTPDoer(ctrl)
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	newTransport := func(inactivity time.Duration) *replane.Transport {
		tr, err := replane.NewTransport(replane.TransportOptions{
			BaseURLs:          []string{"https://config.example.com"},
			SDKKey:            "test-key",
			Client:            doer,
			RetryDelay:        5 * time.Millisecond,
			InactivityTimeout: inactivity,
		})
		Expect(err).NotTo(HaveOccurred())
		return tr
	}

	It("resyncs on every reconnect and keeps reconnecting after the server closes the stream", func() {
		var streamAttempts int32

		doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.HasSuffix(req.URL.Path, "/configs"):
				return transporttest.JSONResponse(map[string]any{
					"configs": []map[string]any{{"name": "feature-a", "value": true}},
				}), nil
			case strings.HasSuffix(req.URL.Path, "/stream"):
				n := atomic.AddInt32(&streamAttempts, 1)
				if n == 1 {
					return transporttest.JSONResponse(nil), nil // body closes immediately: server-closed stream
				}
				resp, _ := transporttest.StreamResponse()
				return resp, nil
			default:
				return transporttest.StatusResponse(http.StatusNotFound, "unexpected path"), nil
			}
		}).AnyTimes()

		tr := newTransport(time.Minute)
		defer tr.Close()

		var mu sync.Mutex
		var deliveries [][]replane.Entry
		tr.StartLiveChannel(ctx, func(entries []replane.Entry) {
			mu.Lock()
			defer mu.Unlock()
			deliveries = append(deliveries, entries)
		})

		Eventually(func() int32 {
			return atomic.LoadInt32(&streamAttempts)
		}, "2s", "5ms").Should(BeNumerically(">=", 2))

		mu.Lock()
		defer mu.Unlock()
		Expect(len(deliveries)).To(BeNumerically(">=", 2), "each connection attempt delivers a resync before opening the stream")
	})

	It("reconnects when no bytes arrive within the inactivity timeout", func() {
		var streamAttempts int32

		doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.HasSuffix(req.URL.Path, "/configs"):
				return transporttest.JSONResponse(map[string]any{"configs": []map[string]any{}}), nil
			case strings.HasSuffix(req.URL.Path, "/stream"):
				atomic.AddInt32(&streamAttempts, 1)
				resp, _ := transporttest.StreamResponse() // never written to: pure silence
				return resp, nil
			default:
				return transporttest.StatusResponse(http.StatusNotFound, "unexpected path"), nil
			}
		}).AnyTimes()

		tr := newTransport(15 * time.Millisecond)
		defer tr.Close()

		tr.StartLiveChannel(ctx, func(entries []replane.Entry) {})

		Eventually(func() int32 {
			return atomic.LoadInt32(&streamAttempts)
		}, "2s", "5ms").Should(BeNumerically(">=", 2), "silence past the inactivity timeout must trigger a reconnect")
	})

	It("delivers heartbeat-interspersed records and stops cleanly on Close", func() {
		resp, pw := transporttest.StreamResponse()

		doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			if strings.HasSuffix(req.URL.Path, "/configs") {
				return transporttest.JSONResponse(map[string]any{"configs": []map[string]any{}}), nil
			}
			return resp, nil
		}).AnyTimes()

		tr := newTransport(time.Minute)

		var mu sync.Mutex
		var names []string
		tr.StartLiveChannel(ctx, func(entries []replane.Entry) {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range entries {
				names = append(names, e.Name)
			}
		})

		go func() {
			pw.Write([]byte("\n")) // heartbeat
			pw.Write([]byte(`{"configs":[{"name":"feature-b","value":1}]}` + "\n"))
		}()

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			out := append([]string(nil), names...)
			return out
		}, "2s", "5ms").Should(ContainElement("feature-b"))

		tr.Close()
	})
})
