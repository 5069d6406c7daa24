package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/zephyrgroup/pkg/digest"
	"github.com/ryandielhenn/zephyrgroup/pkg/node"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server address")
	n := flag.Int("n", 5000, "requests")
	conc := flag.Int("c", 32, "concurrency")
	maxSeqno := flag.Int64("seqno", 1<<20, "upper bound for random seqnos")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	g, err := node.FetchView(context.Background(), client, *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(1)
	}
	fmt.Printf("Benchmarking against view %s with %d members\n", g.ID(), g.Size())

	var (
		wg      sync.WaitGroup
		failed  atomic.Int64
		results sync.Map
	)
	start := time.Now()
	ch := make(chan struct{}, *conc)

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-ch }()
			res, err := node.PostDigest(context.Background(), client, *addr, randomDigest(g.Base(), *maxSeqno))
			if err != nil {
				failed.Add(1)
				return
			}
			c, _ := results.LoadOrStore(res, new(atomic.Int64))
			c.(*atomic.Int64).Add(1)
		}()
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d merges in %s (%.2f ops/s), %d failed\n", *n, dur, float64(*n)/dur.Seconds(), failed.Load())
	results.Range(func(k, v any) bool {
		fmt.Printf("  %-8s %d\n", k, v.(*atomic.Int64).Load())
		return true
	})
}

func randomDigest(v *view.View, maxSeqno int64) *digest.Digest {
	md, _ := digest.NewMutable(v)
	for m := range v.All() {
		hd := rand.Int64N(maxSeqno)
		md.Set(m, hd, hd+rand.Int64N(64))
	}
	return md.Freeze()
}
