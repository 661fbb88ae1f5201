package redisutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestConnect(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = client.Close()
}

func TestConnectBadURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), "://not-a-url", 5*time.Second); err == nil {
		t.Fatal("Connect() with malformed URL should return error")
	}
}
