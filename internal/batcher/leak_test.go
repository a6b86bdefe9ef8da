package batcher

import (
	"context"
	"testing"
	"time"

	"github.com/szibis/otlp-relay/internal/buffer"
	"go.uber.org/goleak"
)

func TestLeakCheck_Batcher(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := &captureSubmitter{}
	buf := buffer.New(100, 4, nil)
	b := New(buf, 4, 20*time.Millisecond, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		buf.Enqueue(makeLog("x"))
	}
	time.Sleep(100 * time.Millisecond)

	cancel()
	<-done
}
