package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType string
	NumKeys       int
	ValueSize     int
	Workers       int
	Operations    int
	Duration      float64 // seconds
	Throughput    float64 // operations per second
	Latency       float64 // microseconds per operation
	HitRate       float64 // for read benchmarks
	Bytes         int64   // bytes produced, for flush benchmarks
	Timestamp     time.Time
}

func newResult(typ string, ops, workers int, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{
		BenchmarkType: typ,
		NumKeys:       *numKeys,
		ValueSize:     *valueSize,
		Workers:       workers,
		Operations:    ops,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if ops > 0 && elapsed > 0 {
		r.Throughput = float64(ops) / elapsed.Seconds()
		r.Latency = float64(elapsed.Microseconds()) / float64(ops) * float64(workers)
	}
	return r
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumKeys", "ValueSize", "Workers",
	"Operations", "Duration", "Throughput", "Latency", "HitRate", "Bytes",
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumKeys),
			strconv.Itoa(r.ValueSize),
			strconv.Itoa(r.Workers),
			strconv.Itoa(r.Operations),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.3f", r.Latency),
			fmt.Sprintf("%.2f", r.HitRate),
			strconv.FormatInt(r.Bytes, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(records) <= 1 {
		return []BenchmarkResult{}, nil
	}
	records = records[1:]

	results := make([]BenchmarkResult, 0, len(records))
	for _, record := range records {
		if len(record) < len(csvHeader) {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, record[0])
		numKeys, _ := strconv.Atoi(record[2])
		valueSize, _ := strconv.Atoi(record[3])
		workers, _ := strconv.Atoi(record[4])
		operations, _ := strconv.Atoi(record[5])
		duration, _ := strconv.ParseFloat(record[6], 64)
		throughput, _ := strconv.ParseFloat(record[7], 64)
		latency, _ := strconv.ParseFloat(record[8], 64)
		hitRate, _ := strconv.ParseFloat(record[9], 64)
		bytes, _ := strconv.ParseInt(record[10], 10, 64)

		results = append(results, BenchmarkResult{
			Timestamp:     timestamp,
			BenchmarkType: record[1],
			NumKeys:       numKeys,
			ValueSize:     valueSize,
			Workers:       workers,
			Operations:    operations,
			Duration:      duration,
			Throughput:    throughput,
			Latency:       latency,
			HitRate:       hitRate,
			Bytes:         bytes,
		})
	}

	return results, nil
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(w io.Writer, results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results to display")
		return
	}

	fmt.Fprintln(w, "+-----------------+--------+---------+---------+--------------+-----------+----------+")
	fmt.Fprintln(w, "| Benchmark Type  | Keys   | ValSize | Workers | Throughput   | Latency   | Hit Rate |")
	fmt.Fprintln(w, "+-----------------+--------+---------+---------+--------------+-----------+----------+")

	for _, r := range results {
		hitRateStr := "-"
		if r.HitRate > 0 {
			hitRateStr = fmt.Sprintf("%.2f%%", r.HitRate)
		}

		latencyUnit := "µs"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Fprintf(w, "| %-15s | %6d | %7d | %7d | %12.2f | %7.2f%s | %8s |\n",
			r.BenchmarkType,
			r.NumKeys,
			r.ValueSize,
			r.Workers,
			r.Throughput,
			latency, latencyUnit,
			hitRateStr)
	}
	fmt.Fprintln(w, "+-----------------+--------+---------+---------+--------------+-----------+----------+")
}
