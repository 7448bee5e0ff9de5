// Benchmark replays PaySim fraud data against a running Harrier.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// Each row is ingested through POST /transactions and the alert decision is
// compared with the row's fraud label.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ingestResponse is the part of the ingestion response the benchmark reads.
type ingestResponse struct {
	Score *domain.ScoreResult `json:"score"`
	Alert *domain.Alert       `json:"alert"`
	Case  *domain.Case        `json:"case"`
}

// Results aggregates a benchmark run.
type Results struct {
	mu sync.Mutex

	Confusion Confusion
	Levels    map[domain.RiskLevel]int64
	Cases     int64
	Errors    int64
	Processed int64
	LatencyMs int64
}

func (r *Results) record(res *ingestResponse, actual bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Processed++
	r.LatencyMs += elapsed.Milliseconds()
	r.Confusion.Add(res.Alert != nil, actual)
	r.Levels[res.Score.RiskLevel]++
	if res.Case != nil {
		r.Cases++
	}
}

func (r *Results) fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Processed++
	r.Errors++
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("=== HARRIER BENCHMARK - PaySim Fraud Detection ===")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Tenant-ID", *tenantID)

	if err := checkHealth(client); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier")
		os.Exit(1)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	transactions, skipped, err := readPaySim(file, ReadOptions{
		Limit:      *limit,
		FraudOnly:  *fraudOnly,
		SampleRate: *sampleRate,
	})
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions (%d malformed rows skipped)\n", len(transactions), skipped)

	start := time.Now()
	results := run(client, transactions, *workers, *verbose)
	printResults(results, time.Since(start))
}

func checkHealth(client *resty.Client) error {
	resp, err := client.R().Get("/health")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode())
	}
	return nil
}

func run(client *resty.Client, transactions []PaySimTransaction, workers int, verbose bool) *Results {
	results := &Results{Levels: make(map[domain.RiskLevel]int64)}
	if workers <= 0 {
		workers = 1
	}

	work := make(chan int, 100)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				tx := transactions[idx]
				started := time.Now()
				res, err := ingest(client, tx, "paysim-"+strconv.Itoa(idx))
				if err != nil {
					results.fail()
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.NameOrig, err)
					}
					continue
				}
				results.record(res, tx.IsFraud, time.Since(started))
				if verbose {
					fmt.Printf("%-12s | %-8s | %12s | fraud=%-5v | score=%3d %-9s | alert=%v\n",
						tx.NameOrig, tx.Type, tx.Amount.StringFixed(2), tx.IsFraud,
						res.Score.RiskScore, res.Score.RiskLevel, res.Alert != nil)
				}
			}
		}()
	}

	for i := range transactions {
		work <- i
	}
	close(work)
	wg.Wait()
	return results
}

func ingest(client *resty.Client, tx PaySimTransaction, id string) (*ingestResponse, error) {
	var out ingestResponse
	resp, err := client.R().
		SetBody(tx.Request(id)).
		SetResult(&out).
		Post("/transactions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Score == nil {
		return nil, fmt.Errorf("response has no score")
	}
	return &out, nil
}

func printResults(r *Results, duration time.Duration) {
	c := r.Confusion

	fmt.Println("\n=== CONFUSION MATRIX ===")
	matrix := tablewriter.NewWriter(os.Stdout)
	matrix.SetHeader([]string{"Actual \\ Predicted", "Alert", "No Alert"})
	matrix.SetAlignment(tablewriter.ALIGN_RIGHT)
	matrix.Append([]string{"Fraud", fmt.Sprint(c.TruePositives), fmt.Sprint(c.FalseNegatives)})
	matrix.Append([]string{"Legit", fmt.Sprint(c.FalsePositives), fmt.Sprint(c.TrueNegatives)})
	matrix.Render()

	fmt.Println("\n=== DETECTION METRICS ===")
	scores := tablewriter.NewWriter(os.Stdout)
	scores.SetHeader([]string{"Metric", "Value"})
	scores.SetAlignment(tablewriter.ALIGN_RIGHT)
	scores.Append([]string{"Precision", fmt.Sprintf("%.4f", c.Precision())})
	scores.Append([]string{"Recall", fmt.Sprintf("%.4f", c.Recall())})
	scores.Append([]string{"F1", fmt.Sprintf("%.4f", c.F1())})
	scores.Append([]string{"Accuracy", fmt.Sprintf("%.4f", c.Accuracy())})
	scores.Append([]string{"Cases opened", fmt.Sprint(r.Cases)})
	scores.Append([]string{"Errors", fmt.Sprint(r.Errors)})
	scores.Render()

	fmt.Println("\n=== RISK LEVELS ===")
	levels := tablewriter.NewWriter(os.Stdout)
	levels.SetHeader([]string{"Level", "Transactions"})
	for _, level := range domain.RiskLevels {
		levels.Append([]string{string(level), fmt.Sprint(r.Levels[level])})
	}
	levels.Render()

	fmt.Println("\n=== PERFORMANCE ===")
	fmt.Printf("Total Duration: %v\n", duration.Round(time.Millisecond))
	if ok := r.Processed - r.Errors; ok > 0 {
		fmt.Printf("Avg Latency:    %.2f ms\n", float64(r.LatencyMs)/float64(ok))
	}
	if duration > 0 {
		fmt.Printf("Throughput:     %.2f tx/sec\n", float64(r.Processed)/duration.Seconds())
	}
	fmt.Println()
}
