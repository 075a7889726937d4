package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/zcs/pkg/transport"
	"github.com/ryandielhenn/zcs/pkg/zcs"
)

func main() {
	mode := flag.String("mode", "hub", "hub: in-process discoverer+announcer; udp: announcer on real multicast; http: POST /v1/ads to a running zcsd")
	addr := flag.String("addr", "http://localhost:8081", "zcsd admin address (http mode)")
	n := flag.Int("n", 5000, "advertisements to post")
	conc := flag.Int("c", 32, "concurrency")
	flag.Parse()

	var (
		post func(i int) error
		done func() int64
	)
	switch *mode {
	case "hub", "udp":
		var err error
		post, done, err = engines(*mode)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bench:", err)
			os.Exit(1)
		}
	case "http":
		post = httpPoster(*addr)
	default:
		fmt.Fprintf(os.Stderr, "bench: unknown mode %q\n", *mode)
		os.Exit(2)
	}

	var failed atomic.Int64
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			if err := post(i); err != nil {
				failed.Add(1)
			}
			<-ch
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Posted %d ads in %s (%.2f posts/s, %d failed)\n", *n, dur, float64(*n)/dur.Seconds(), failed.Load())
	if done != nil {
		fmt.Printf("Delivered %d ads to the discoverer\n", done())
	}
}

// engines starts an announcer (and, over the hub, a discoverer that counts
// deliveries) and returns a poster along with a function that stops both.
func engines(mode string) (post func(int) error, done func() int64, err error) {
	ctx := context.Background()
	cfg := zcs.Config{PollInterval: 10 * time.Millisecond}
	var delivered atomic.Int64
	var disc *zcs.Engine

	if mode == "hub" {
		hub := transport.NewHub()
		cfg.Opener = hub
		disc = zcs.New(cfg)
		if err := disc.Init(ctx, zcs.Discoverer); err != nil {
			return nil, nil, err
		}
	}

	ann := zcs.New(cfg)
	if err := ann.Init(ctx, zcs.Announcer); err != nil {
		return nil, nil, err
	}
	if err := ann.Start(ctx, "bench", nil); err != nil {
		return nil, nil, err
	}

	if disc != nil {
		deadline := time.Now().Add(2 * time.Second)
		for len(disc.Nodes()) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if err := disc.Start(ctx, "bench-app", nil); err != nil {
			return nil, nil, err
		}
		if err := disc.ListenAd("bench", func(string, string) { delivered.Add(1) }); err != nil {
			return nil, nil, err
		}
	}

	post = func(i int) error {
		_, err := ann.PostAd(ctx, "seq", strconv.Itoa(i))
		return err
	}
	done = func() int64 {
		// Let the receive task drain.
		time.Sleep(100 * time.Millisecond)
		_ = ann.Shutdown(ctx)
		if disc != nil {
			_ = disc.Close(ctx)
		}
		return delivered.Load()
	}
	return post, done, nil
}

func httpPoster(addr string) func(int) error {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(i int) error {
		body, _ := json.Marshal(map[string]string{"name": "seq", "value": strconv.Itoa(i)})
		resp, err := client.Post(addr+"/v1/ads", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}
