package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/crowd-chess-bot/internal/chatcmd"
	"github.com/park285/crowd-chess-bot/internal/twitch"
)

func main() {
	window := flag.Duration("for", 30*time.Second, "How long to observe the channel")
	channel := flag.String("channel", "", "Channel to join (defaults to TWITCH_CHANNEL)")
	flag.Parse()

	_ = godotenv.Load()
	ch := strings.TrimSpace(*channel)
	if ch == "" {
		ch = strings.TrimSpace(os.Getenv("TWITCH_CHANNEL"))
	}
	if ch == "" {
		log.Fatal("TWITCH_CHANNEL is required")
	}

	conn := twitch.NewConn(twitch.Config{
		URL:          os.Getenv("TWITCH_WS_URL"),
		Username:     os.Getenv("TWITCH_USERNAME"),
		OAuth:        os.Getenv("TWITCH_OAUTH"),
		Channel:      ch,
		MaxReconnect: 3,
	})
	conn.OnStateChange(func(st twitch.State) {
		log.Printf("chat state: %s", st)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := conn.Connect(cctx); err != nil {
		log.Printf("chat connect error: %v", err)
		return
	}
	defer conn.Close(context.Background())

	deadline := time.After(*window)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return
		case <-tick.C:
			batch, err := conn.ReceiveBatch(context.Background(), 64)
			if err != nil {
				log.Printf("chat failed: %v", err)
				return
			}
			for _, m := range batch {
				c := chatcmd.Classify(m.Text)
				switch c.Kind {
				case chatcmd.KindCommand:
					fmt.Printf("%-20s command %s %q\n", m.User, c.Name, c.Arg)
				case chatcmd.KindMoveVote:
					fmt.Printf("%-20s move    %q\n", m.User, c.Text)
				default:
					fmt.Printf("%-20s ignored %q\n", m.User, m.Text)
				}
			}
		}
	}
}
