// bench drives a cluster through the Clerk and reports throughput and
// latency. Modes: put, get, append, or mixed (put/get split by
// -put-ratio).
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/quartzkv/quartz/pkg/client"
	"github.com/quartzkv/quartz/pkg/config"
	"github.com/quartzkv/quartz/pkg/grpctrans"
	"github.com/quartzkv/quartz/pkg/transport"
)

const (
	exitOK     = 0
	exitUsage  = 1
	exitConfig = 2
)

func main() {
	configFile := flag.String("config-file", "", "Cluster config file")
	concurrency := flag.Int("concurrency", 4, "Concurrent workers")
	opsPerWorker := flag.Int("ops", 1000, "Operations per worker")
	mode := flag.String("mode", "mixed", "Workload: put, get, append or mixed")
	putRatio := flag.Float64("put-ratio", 0.5, "Put fraction for mixed mode")
	transportKind := flag.String("transport", "tcp", "Client transport: tcp or grpc")
	flag.Parse()

	if *configFile == "" || *concurrency <= 0 || *opsPerWorker <= 0 {
		flag.Usage()
		os.Exit(exitUsage)
	}
	switch *mode {
	case "put", "get", "append", "mixed":
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(exitUsage)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfig)
	}

	var wg sync.WaitGroup
	latC := make(chan []time.Duration, *concurrency)
	start := time.Now()

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			clerk, err := makeClerk(cfg, *transportKind)
			if err != nil {
				fmt.Fprintf(os.Stderr, "worker %d: %v\n", worker, err)
				latC <- nil
				return
			}

			rnd := rand.New(rand.NewSource(int64(worker) + time.Now().UnixNano()))
			lats := make([]time.Duration, 0, *opsPerWorker)

			for i := 0; i < *opsPerWorker; i++ {
				key := fmt.Sprintf("bench-%d-%d", worker, i%64)
				value := fmt.Sprintf("v%d", i)

				opStart := time.Now()
				switch pickOp(*mode, *putRatio, rnd) {
				case "put":
					clerk.Put(key, value)
				case "get":
					clerk.Get(key)
				case "append":
					clerk.Append(key, value)
				}
				lats = append(lats, time.Since(opStart))
			}
			latC <- lats
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)
	close(latC)

	var all []time.Duration
	for lats := range latC {
		all = append(all, lats...)
	}
	if len(all) == 0 {
		fmt.Fprintln(os.Stderr, "no operations completed")
		os.Exit(exitConfig)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	var total time.Duration
	for _, d := range all {
		total += d
	}
	p := func(q float64) time.Duration {
		i := int(q * float64(len(all)-1))
		return all[i]
	}

	fmt.Printf("mode=%s workers=%d ops=%d elapsed=%v\n", *mode, *concurrency, len(all), elapsed.Round(time.Millisecond))
	fmt.Printf("throughput: %.0f ops/s\n", float64(len(all))/elapsed.Seconds())
	fmt.Printf("latency: avg=%v p50=%v p99=%v max=%v\n",
		(total / time.Duration(len(all))).Round(time.Microsecond),
		p(0.50).Round(time.Microsecond),
		p(0.99).Round(time.Microsecond),
		all[len(all)-1].Round(time.Microsecond))
	os.Exit(exitOK)
}

func pickOp(mode string, putRatio float64, rnd *rand.Rand) string {
	if mode != "mixed" {
		return mode
	}
	if rnd.Float64() < putRatio {
		return "put"
	}
	return "get"
}

func makeClerk(cfg *config.Config, transportKind string) (*client.Clerk, error) {
	peers := cfg.Peers()
	servers := make([]client.KVRPCClient, 0, len(peers))
	switch transportKind {
	case "tcp":
		pool := transport.Default()
		for _, addr := range peers {
			c, err := client.NewTCPKVClient(pool, addr)
			if err != nil {
				return nil, err
			}
			servers = append(servers, c)
		}
	case "grpc":
		for _, addr := range peers {
			servers = append(servers, grpctrans.NewKVClient(addr))
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", transportKind)
	}
	return client.NewClerk(servers, nil), nil
}
