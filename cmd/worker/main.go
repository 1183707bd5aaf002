// Worker consumes processed scan outcomes from the queue and forwards them
// to a configured webhook sink (notification dispatcher, data warehouse...).
// What the sink does with them is its own business.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rfidattend/internal/attendance"
	"rfidattend/internal/config"
	"rfidattend/internal/queue"
	"rfidattend/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rfidattend:outcomes")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for outcomes...")
	for msg := range messages {
		if msg.Type != "scan" {
			continue
		}

		var outcome attendance.Outcome
		if err := json.Unmarshal(msg.Body, &outcome); err != nil {
			log.Printf("bad outcome payload: %v", err)
			continue
		}

		if cfg.SinkURL == "" {
			log.Printf("outcome: %s %s", outcome.Status, outcome.Message)
			continue
		}

		if err := forward(ctx, client, cfg.SinkURL, msg.Body); err != nil {
			log.Printf("sink forward failed: %v", err)
		}
	}

	log.Println("worker stopped")
}

func forward(ctx context.Context, client *http.Client, sinkURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sinkURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("sink returned %d", resp.StatusCode)
	}
	return nil
}
