package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Purchases committed
	fail409       uint64 // Duplicate purchases
	fail402       uint64 // Custody rejections
	fail429       uint64 // Rate limited
	failOther     uint64
)

// Matches the catalog written by cmd/seeder.
const (
	totalContents = 500
	basePrice     = 100
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(i, &wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(id int, wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	seq := 0
	for time.Since(start) < duration {
		seq++
		contentIdx := pickContent()
		contentID := fmt.Sprintf("demo-content-%d", contentIdx)
		price := int64(basePrice * (1 + contentIdx%50))

		// Fresh buyer per request keeps purchases unique under the
		// uniform workload; hotspot reuses a small buyer pool to force
		// duplicate-purchase conflicts on the hot content.
		buyer := fmt.Sprintf("bench-buyer-%d-%d", id, seq)
		if workload == "hotspot" {
			buyer = fmt.Sprintf("bench-buyer-%d", rand.Intn(20))
		}

		if err := fund(client, buyer, price); err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		payload := map[string]interface{}{
			"buyer":      buyer,
			"content_id": contentID,
			"amount":     price,
		}
		body, _ := json.Marshal(payload)

		resp, err := client.Post(targetURL+"/api/v1/payments", "application/json", bytes.NewBuffer(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 402:
			atomic.AddUint64(&fail402, 1)
		case 429:
			atomic.AddUint64(&fail429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func fund(client *http.Client, account string, amount int64) error {
	payload := map[string]interface{}{"account": account, "amount": amount}
	body, _ := json.Marshal(payload)
	resp, err := client.Post(targetURL+"/api/v1/treasury/fund", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fund returned %d (is the server in development mode?)", resp.StatusCode)
	}
	return nil
}

func pickContent() int {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic hits the first content id.
		if rand.Float32() < 0.90 {
			return 0
		}
	}
	return rand.Intn(totalContents)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f409 := atomic.LoadUint64(&fail409)
	f402 := atomic.LoadUint64(&fail402)
	f429 := atomic.LoadUint64(&fail429)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	dupRate := 0.0
	if total > 0 {
		dupRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     tps,
		"purchases_created":  s201,
		"duplicate_rejects":  f409,
		"duplicate_rate_pct": dupRate,
		"custody_rejects":    f402,
		"rate_limited":       f429,
		"errors":             fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
