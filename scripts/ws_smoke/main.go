package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
)

// ws_smoke connects to a channel, sends one message and waits until the
// finalized event for it comes back, then marks it read.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket base address")
	channel := flag.Int64("channel", 1, "channel id")
	token := flag.String("token", os.Getenv("LTCHAT_TOKEN"), "JWT (see `ltchat token`)")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return errors.New("a token is required: pass -token or set LTCHAT_TOKEN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("%s/%d?token=%s", *addr, *channel, *token), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMessage, Content: *text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	var tempID string
	start := time.Now()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ev, err := proto.UnmarshalEvent(data)
		if err != nil {
			fmt.Printf("Received non-event frame: %s\n", data)
			continue
		}

		switch e := ev.(type) {
		case *core.MessageEvent:
			if e.ID == 0 && e.Body == *text && tempID == "" {
				tempID = e.TempID
				fmt.Printf("optimistic echo %s after %s (status %s)\n", tempID, time.Since(start), e.Status)
				continue
			}
			if e.ID != 0 && e.TempID == tempID {
				fmt.Printf("finalized as #%d after %s\n", e.ID, time.Since(start))
				read := proto.Inbound{Type: proto.InboundTypeRead, MessageID: []byte(fmt.Sprint(e.ID))}
				if err := wsjson.Write(ctx, conn, read); err != nil {
					return fmt.Errorf("send read: %w", err)
				}
			}
		case *core.StatusUpdateEvent:
			fmt.Printf("#%d marked %s\n", e.MessageID, e.Status)
			return nil
		default:
			fmt.Printf("Received %T\n", ev)
		}
	}
}
