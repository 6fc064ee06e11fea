// Benchmark tool for measuring Kestrel against a labeled content corpus.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/corpus.csv -url http://localhost:8080
//
// The CSV has a header row with the columns
//
//	content_type,content,source_domain,file_size,label
//
// where content is the text, URL, filename or QR payload for the row's type
// and label is 1 (harmful) or 0 (benign). source_domain and file_size are
// only read for files.
//
// This tool:
//  1. Reads the labeled corpus
//  2. Sends each row to POST /scan
//  3. Counts a prediction as harmful when the scan blocked the content or
//     rated it at or above the chosen severity
//  4. Reports the confusion matrix, precision, recall, F1 and accuracy
package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Sample is one labeled corpus row.
type Sample struct {
	Request domain.ScanRequest
	Harmful bool
}

// ScanResponse is the subset of the /scan response the benchmark reads.
type ScanResponse struct {
	RiskScore int             `json:"riskScore"`
	Severity  domain.Severity `json:"severity"`
	Blocked   bool            `json:"blocked"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Harmful content flagged
	FalsePositives int64 // Benign content flagged
	TrueNegatives  int64 // Benign content passed
	FalseNegatives int64 // Harmful content passed

	TotalProcessed int64
	TotalHarmful   int64
	TotalBenign    int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

// Record adds one labeled prediction to the confusion matrix.
func (m *Metrics) Record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalHarmful, 1)
	} else {
		atomic.AddInt64(&m.TotalBenign, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Scores returns precision, recall, F1 and accuracy.
func (m *Metrics) Scores() (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return precision, recall, f1, accuracy
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labeled corpus CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	actor := flag.String("actor", "benchmark", "X-Actor header for requests")
	limit := flag.Int("limit", 10000, "Maximum rows to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	threshold := flag.String("threshold", string(domain.SeverityHigh), "Lowest severity counted as a harmful prediction")
	verbose := flag.Bool("verbose", false, "Print each row result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/corpus.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	minSeverity := domain.Severity(*threshold)
	if !minSeverity.Valid() {
		fmt.Printf("ERROR: unknown severity %q\n", *threshold)
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - labeled content corpus")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Threshold:   %s\n", minSeverity)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	samples, skipped, err := readCorpus(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d samples (%d malformed rows skipped)\n", len(samples), skipped)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(samples, *baseURL, *actor, minSeverity, *workers, *verbose)
	printResults(metrics, time.Since(startTime))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var requiredColumns = []string{"content_type", "content", "label"}

// readCorpus parses labeled rows. Rows with an unknown content type or label
// are skipped and counted.
func readCorpus(r io.Reader, limit int) ([]Sample, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", col)
		}
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var samples []Sample
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		sample, ok := parseSample(
			field(record, "content_type"),
			field(record, "content"),
			field(record, "source_domain"),
			field(record, "file_size"),
			field(record, "label"),
		)
		if !ok {
			skipped++
			continue
		}
		samples = append(samples, sample)

		if limit > 0 && len(samples) >= limit {
			break
		}
	}
	return samples, skipped, nil
}

func parseSample(contentType, content, sourceDomain, fileSize, label string) (Sample, bool) {
	var harmful bool
	switch strings.ToLower(label) {
	case "1", "true", "harmful", "malicious":
		harmful = true
	case "0", "false", "benign", "clean":
	default:
		return Sample{}, false
	}

	req := domain.ScanRequest{ContentType: domain.ContentType(strings.ToLower(contentType))}
	switch req.ContentType {
	case domain.ContentText:
		req.Payload.Text = content
	case domain.ContentURL:
		req.Payload.URL = content
	case domain.ContentQR:
		req.Payload.QRData = content
	case domain.ContentFile:
		req.Payload.Filename = content
		req.Payload.SourceDomain = sourceDomain
		if fileSize != "" {
			size, err := strconv.ParseInt(fileSize, 10, 64)
			if err != nil {
				return Sample{}, false
			}
			req.Payload.FileSize = size
		}
	default:
		return Sample{}, false
	}
	return Sample{Request: req, Harmful: harmful}, true
}

// flagged reports whether a scan result counts as a harmful prediction.
func flagged(resp *ScanResponse, minSeverity domain.Severity) bool {
	return resp.Blocked || resp.Severity.AtLeast(minSeverity)
}

func runBenchmark(samples []Sample, baseURL, actor string, minSeverity domain.Severity, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := scanSample(client, baseURL, actor, s)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.Request.Literal(), err)
					}
					continue
				}

				predicted := flagged(result, minSeverity)
				metrics.Record(predicted, s.Harmful)

				if verbose {
					status := "ok"
					if predicted != s.Harmful {
						status = "MISS"
					}
					content := s.Request.Literal()
					if len(content) > 40 {
						content = content[:40]
					}
					fmt.Printf("%-4s %-4s | %-40s | harmful: %-5v | score: %3d %-8s blocked: %v\n",
						status,
						s.Request.ContentType,
						content,
						s.Harmful,
						result.RiskScore,
						result.Severity,
						result.Blocked,
					)
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)
	wg.Wait()

	return metrics
}

func scanSample(client *http.Client, baseURL, actor string, s Sample) (*ScanResponse, error) {
	body, err := json.Marshal(s.Request)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Actor", actor)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScanResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Harmful:    %d\n", m.TotalHarmful)
	fmt.Printf("   Total Benign:     %d\n", m.TotalBenign)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    FLAG        PASS")
	fmt.Printf("   Actual  H  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("           B  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision, recall, f1, accuracy := m.Scores()

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were harmful)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of harmful content, how much was flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	if m.TotalHarmful > 0 {
		fmt.Printf("   Missed:     %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalHarmful,
			float64(m.FalseNegatives)/float64(m.TotalHarmful)*100)
	}
	if m.TotalBenign > 0 {
		fmt.Printf("   False Flags: %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalBenign,
			float64(m.FalsePositives)/float64(m.TotalBenign)*100)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f scans/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
