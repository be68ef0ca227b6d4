package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/leaky-pager/pkg/admission"
	"github.com/Sternrassler/leaky-pager/pkg/client"
	"github.com/Sternrassler/leaky-pager/pkg/clock"
	"github.com/Sternrassler/leaky-pager/pkg/dataset"
	"github.com/Sternrassler/leaky-pager/pkg/pagination"
	"github.com/Sternrassler/leaky-pager/pkg/server"
)

// portico is the subset of a record the tests read.
type portico struct {
	Name string `json:"name"`
}

func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// sharedClock drives both the server bucket and the streams, so a stream's
// sleep leaks the server bucket by exactly the slept time.
func sharedClock() *clock.Manual {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	clk.SetAutoAdvance(true)
	return clk
}

// startServer runs an admission controller and HTTP server over records
// synthetic records until the test ends.
func startServer(t *testing.T, cfg admission.Config, records int, clk clock.Clock, noise admission.Noise) string {
	t.Helper()

	ctrl, err := admission.New(cfg, dataset.Synthetic(records), quietLogger(),
		admission.WithClock(clk), admission.WithNoise(noise))
	if err != nil {
		t.Fatalf("admission.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()

	srv, err := server.New(server.DefaultConfig(), ctrl, quietLogger())
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return ts.URL
}

func newStream(t *testing.T, baseURL string, cfg pagination.Config, opts ...pagination.Option) *pagination.Stream[portico] {
	t.Helper()

	c, err := client.New(client.DefaultConfig(baseURL))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	opts = append([]pagination.Option{pagination.WithLogger(quietLogger())}, opts...)
	s, err := pagination.NewStream[portico](c, cfg, opts...)
	if err != nil {
		t.Fatalf("NewStream() error = %v", err)
	}
	return s
}

// checkNames fails unless records are Portico 0..n-1 in order.
func checkNames(t *testing.T, records []portico, n int) {
	t.Helper()

	if len(records) != n {
		t.Fatalf("len(records) = %d, want %d", len(records), n)
	}
	for i, r := range records {
		if want := syntheticName(i); r.Name != want {
			t.Fatalf("records[%d].Name = %q, want %q", i, r.Name, want)
		}
	}
}

func syntheticName(i int) string {
	return fmt.Sprintf("Portico %d", i+1)
}
