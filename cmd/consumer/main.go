package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/mama165/sdk-go/logs"

	"qr-relay/client"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the consumer-side environment variables. The token is the
// session credential issued by the login endpoint; the WebSocket upgrade
// carries it as a query parameter.
type Config struct {
	ServerURL string `env:"RELAY_SERVER_URL,default=ws://localhost:3000/ws"`
	ChannelID string `env:"RELAY_CHANNEL_ID,required=true"`
	Password  string `env:"RELAY_CHANNEL_PASSWORD"`
	Token     string `env:"RELAY_TOKEN,required=true"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Consumer error: %v\n", err)
	}
	os.Exit(code)
}

// run watches one channel and prints every URL the producer publishes,
// with the latency-corrected remaining validity.
func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := config.ServerURL + "?token=" + config.Token
	consumer := client.NewConsumer(log, url, config.ChannelID, config.Password, client.Handlers{
		OnUpdate: func(u client.Update) {
			fmt.Printf("%s  (valid for %dms)\n", u.URL, u.RemainingMs)
		},
		OnProducerLeft: func() {
			fmt.Println("producer left the channel")
		},
		OnError: func(message string) {
			fmt.Printf("server rejected request: %s\n", message)
		},
	})

	log.Info("Watching channel (Ctrl+C to quit)", "channel_id", config.ChannelID)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return exitRuntime, err
	}
	return exitOK, nil
}
