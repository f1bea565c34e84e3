// Command loadgen drives synthetic enqueue traffic against a running
// rankmatch node's /enqueue endpoint, standing in for a real client
// population so backpressure, widening, and cross-shard matching can be
// exercised under load without a browser in the loop.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "loadgen",
		Usage: "generate synthetic enqueue load against a rankmatch node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Usage: "node base URL", Value: "http://127.0.0.1:8081", EnvVars: []string{"LOADGEN_TARGET"}},
			&cli.IntFlag{Name: "rate", Usage: "requests per second", Value: 50},
			&cli.DurationFlag{Name: "duration", Usage: "how long to run", Value: 30 * time.Second},
			&cli.IntFlag{Name: "rank-min", Usage: "minimum generated rank", Value: 0},
			&cli.IntFlag{Name: "rank-max", Usage: "maximum generated rank", Value: 9999},
			&cli.IntFlag{Name: "concurrency", Usage: "concurrent senders", Value: 8},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "loadgen: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	target := c.String("target")
	rate := c.Int("rate")
	duration := c.Duration("duration")
	rankMin := c.Int("rank-min")
	rankMax := c.Int("rank-max")
	concurrency := c.Int("concurrency")

	if rate <= 0 {
		return errors.New("--rate must be positive")
	}
	if rankMax < rankMin {
		return errors.New("--rank-max must be >= --rank-min")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	interval := time.Second / time.Duration(rate)

	var sent, accepted, rejected atomic.Int64
	deadline := time.Now().Add(duration)

	var wg sync.WaitGroup
	requests := make(chan struct{})

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range requests {
				rank := rankMin + rand.Intn(rankMax-rankMin+1)
				userID := uuid.NewString()
				status, err := postEnqueue(client, target, userID, rank)
				sent.Add(1)
				if err != nil || status >= 300 {
					rejected.Add(1)
					continue
				}
				accepted.Add(1)
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		<-ticker.C
		requests <- struct{}{}
	}
	close(requests)
	wg.Wait()

	fmt.Printf("sent=%d accepted=%d rejected=%d\n", sent.Load(), accepted.Load(), rejected.Load())
	return nil
}

func postEnqueue(client *http.Client, target, userID string, rank int) (int, error) {
	body, err := json.Marshal(struct {
		UserID string `json:"user_id"`
		Rank   int    `json:"rank"`
	}{UserID: userID, Rank: rank})
	if err != nil {
		return 0, err
	}

	resp, err := client.Post(target+"/enqueue", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
