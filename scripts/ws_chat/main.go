package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket base address")
	channel := flag.Int64("channel", 1, "channel id to join")
	token := flag.String("token", os.Getenv("LTCHAT_TOKEN"), "JWT (see `ltchat token`)")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "presence heartbeat interval")
	flag.Parse()

	if *token == "" {
		return errors.New("a token is required: pass -token or set LTCHAT_TOKEN")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	url := fmt.Sprintf("%s/%d?token=%s", strings.TrimRight(*addr, "/"), *channel, *token)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to channel %d\n", *channel)
	fmt.Println("Type messages and press Enter to send. /read <id> marks a message read. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()
	go heartbeatLoop(ctx, conn, *heartbeat)

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			log.Printf("bad frame: %v", err)
			continue
		}
		if head.Type == proto.OutboundTypeError {
			var e proto.Error
			_ = json.Unmarshal(data, &e)
			fmt.Printf("! %s: %s\n", e.Code, e.Msg)
			continue
		}

		ev, err := proto.UnmarshalEvent(data)
		if err != nil {
			log.Printf("unmarshal event: %v", err)
			continue
		}
		printEvent(ev)
	}
}

func printEvent(ev core.Event) {
	switch e := ev.(type) {
	case *core.PresenceSnapshotEvent:
		fmt.Printf("[channel %d] online: %v\n", e.ChannelID, e.OnlineUsers)
	case *core.PresenceEvent:
		fmt.Printf("[channel %d] %s (%d) is %s\n", e.ChannelID, e.Username, e.UserID, e.Status)
	case *core.MessageEvent:
		if e.ID == 0 {
			fmt.Printf("[%s] %s: %s (%s)\n", e.TempID, e.Username, e.Body, e.Status)
		} else {
			fmt.Printf("  saved %s as #%d\n", e.TempID, e.ID)
		}
	case *core.StatusUpdateEvent:
		fmt.Printf("  #%d is now %s\n", e.MessageID, e.Status)
	}
}

func heartbeatLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeHeartbeat}); err != nil {
				return
			}
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			frame := proto.Inbound{Type: proto.InboundTypeMessage, Content: text}
			if rest, found := strings.CutPrefix(text, "/read "); found {
				id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
				if err != nil {
					fmt.Println("usage: /read <message id>")
					continue
				}
				frame = proto.Inbound{Type: proto.InboundTypeRead, MessageID: json.RawMessage(strconv.FormatInt(id, 10))}
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
