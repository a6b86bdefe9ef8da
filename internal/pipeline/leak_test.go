package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/szibis/otlp-relay/internal/stats"
	"go.uber.org/goleak"
)

func TestLeakCheck_Pipeline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	exp := &fakeExporter{}
	p := New(fastConfig(), exp, stats.NewCollector())
	p.Start()

	for i := 0; i < 10; i++ {
		p.Emit(newLogRecord("x"))
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
