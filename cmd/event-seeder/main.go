// Command event-seeder generates synthetic user-event traffic against a
// running API instance, for load testing and demo data.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/eventloom-io/eventloom/internal/model"
)

var eventTypes = []string{
	"login", "logout", "signup", "page_view", "purchase",
	"add_to_cart", "search", "share", "profile_update",
}

func main() {
	apiURL := flag.String("url", "http://localhost:8080", "API base URL")
	apiKey := flag.String("api-key", "", "X-API-Key value")
	batches := flag.Int("batches", 10, "number of batches to send")
	batchSize := flag.Int("batch-size", 100, "events per batch")
	users := flag.Int("users", 500, "size of the simulated user population")
	spread := flag.Duration("spread", 24*time.Hour, "spread event timestamps over this past window")
	interval := flag.Duration("interval", 200*time.Millisecond, "pause between batches")
	seed := flag.Int64("seed", 0, "random seed (0 means time-based)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gofakeit.Seed(*seed)
	rng := rand.New(rand.NewSource(*seed))

	client := &http.Client{Timeout: 30 * time.Second}
	sent := 0

	for b := 0; b < *batches; b++ {
		batch := generateBatch(rng, *batchSize, *users, *spread)
		if err := postBatch(client, *apiURL, *apiKey, batch); err != nil {
			log.Fatalf("Batch %d failed: %v", b+1, err)
		}
		sent += len(batch.Events)
		fmt.Printf("Batch %d/%d sent (%d events total)\n", b+1, *batches, sent)

		if b < *batches-1 {
			time.Sleep(*interval)
		}
	}

	fmt.Printf("Done: %d events across %d batches\n", sent, *batches)
}

func generateBatch(rng *rand.Rand, size, users int, spread time.Duration) model.EventBatch {
	now := time.Now().UTC()
	events := make([]model.Event, size)
	for i := range events {
		eventType := eventTypes[rng.Intn(len(eventTypes))]
		occurred := now
		if spread > 0 {
			occurred = now.Add(-time.Duration(rng.Int63n(int64(spread))))
		}
		events[i] = model.Event{
			EventID:    uuid.New(),
			OccurredAt: occurred,
			UserID:     int64(rng.Intn(users) + 1),
			EventType:  eventType,
			Properties: generateProperties(eventType),
		}
	}
	return model.EventBatch{Events: events}
}

func generateProperties(eventType string) map[string]any {
	props := map[string]any{
		"ip":         gofakeit.IPv4Address(),
		"user_agent": gofakeit.UserAgent(),
		"country":    gofakeit.CountryAbr(),
	}

	switch eventType {
	case "page_view":
		props["path"] = "/" + gofakeit.Word()
		props["referrer"] = gofakeit.URL()
	case "purchase":
		props["amount"] = gofakeit.Price(1, 500)
		props["currency"] = gofakeit.CurrencyShort()
		props["product"] = gofakeit.ProductName()
	case "search":
		props["query"] = gofakeit.HipsterWord()
	case "signup":
		props["plan"] = gofakeit.RandomString([]string{"free", "pro", "enterprise"})
	}
	return props
}

func postBatch(client *http.Client, baseURL, apiKey string, batch model.EventBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/events", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return nil
}
