package core

import (
	"context"
	"testing"
)

func benchmarkChannelBroadcast(b *testing.B, recipients int) {
	hub := NewHub(HubOptions{
		Presence:  newFakePresence(),
		Backplane: newFakeBackplane(),
		Producer:  &fakeProducer{},
	})
	defer hub.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < recipients; i++ {
		c := NewConnection(1, Identity{UserID: int64(i)}, 64)
		hub.Registry().Register(1, c)
		go func(c *Connection) {
			for {
				select {
				case <-c.Events():
				case <-ctx.Done():
					return
				}
			}
		}(c)
	}

	ev := &StatusUpdateEvent{ChannelID: 1, MessageID: 1, Status: StatusRead}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hub.Broadcast(ctx, 1, ev)
	}
}

func BenchmarkChannelBroadcast_10(b *testing.B)  { benchmarkChannelBroadcast(b, 10) }
func BenchmarkChannelBroadcast_100(b *testing.B) { benchmarkChannelBroadcast(b, 100) }
func BenchmarkChannelBroadcast_500(b *testing.B) { benchmarkChannelBroadcast(b, 500) }
