// Package main is a small interactive demo of the beacon pipeline: it
// tracks a handful of events against a collector and shows the local
// session counters. Configure via BEACON_* environment variables or a
// .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/beaconkit/beacon-go"
	"github.com/beaconkit/beacon-go/event"
)

func main() {
	userID := flag.String("user", "", "identify as this user id after the first event")
	count := flag.Int("count", 5, "number of demo events to track")
	flag.Parse()

	cfg, err := beacon.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client, err := beacon.New(cfg,
		beacon.WithContextProvider(func() event.Context {
			ctx := event.DefaultContext()
			ctx.AppVersion = "demo"
			return ctx
		}),
	)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	log.Printf("Tracking %d demo events to %s", *count, cfg.BaseURL)

	screens := []string{"Home", "Settings", "Profile"}
	for i := 0; i < *count; i++ {
		client.Track("Screen Viewed", map[string]any{
			"screen": screens[i%len(screens)],
			"index":  i,
		})
		if i == 0 && *userID != "" {
			client.Identify(*userID, map[string]any{"source": "beacon-demo"})
		}
	}
	client.Flush()

	printStats(client)

	// Keep running so the periodic flush and session timeout can be
	// observed; Ctrl+C shuts down with a final flush.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	log.Println("Running; press Ctrl+C to stop")
	<-done

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client.Shutdown(ctx)
	log.Println("Stopped")
}

func printStats(client *beacon.Client) {
	stats := client.SessionStats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("Session counters:")
	for _, k := range keys {
		fmt.Printf("  %-30s %d\n", k, stats[k])
	}
	fmt.Printf("Anonymous id: %s\n", client.AnonymousID())
}
