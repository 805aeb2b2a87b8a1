// cmd/bench/throughput/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/config"
	"github.com/DeltaLaboratory/dotted/internal/driver"
	"github.com/DeltaLaboratory/dotted/internal/logging"
	"github.com/DeltaLaboratory/dotted/internal/record"
)

type Config struct {
	Driver      string
	ConfigFile  string
	Hosts       string
	Table       string
	Records     int
	Fields      int
	ValueSize   int
	Concurrency int
	ReadRatio   float64
	UpdateRatio float64
	Duration    time.Duration
	SkipLoad    bool
	LogLevel    string
	LogFile     string
}

type opMetrics struct {
	ops     atomic.Int64
	failed  atomic.Int64
	latency atomic.Int64 // in microseconds
}

type Metrics struct {
	read     opMetrics
	insert   opMetrics
	update   opMetrics
	duration time.Duration
}

func (m *Metrics) total() int64 {
	return m.read.ops.Load() + m.insert.ops.Load() + m.update.ops.Load()
}

func main() {
	cfg := parseFlags()

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()

	props := config.Properties{}
	if cfg.ConfigFile != "" {
		if props, err = config.LoadFile(cfg.ConfigFile); err != nil {
			logger.Fatal().Err(err).Msg("Failed to load configuration")
		}
	}
	if cfg.Hosts != "" {
		props = props.Merge(config.Properties{config.Key(cfg.Driver, "cluster_hosts"): cfg.Hosts})
	}

	db, err := driver.New(cfg.Driver, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create driver")
	}
	if err := db.Init(context.Background(), props); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize driver")
	}
	defer func() {
		if err := db.Cleanup(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to clean up driver")
		}
	}()

	keys := generateKeys(cfg.Records)

	if !cfg.SkipLoad {
		loaded := load(db, cfg, keys)
		logger.Info().Int("records", loaded).Int("requested", len(keys)).Msg("Load phase finished")
	}

	metrics := runBenchmark(db, cfg, keys, logger)
	printResults(metrics)
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Driver, "driver", "dotted", "Driver: dotted or basic")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Configuration file (.yaml, .json or .properties)")
	flag.StringVar(&cfg.Hosts, "hosts", "", "Comma-separated host:port list, overrides the configuration")
	flag.StringVar(&cfg.Table, "table", "usertable", "Table name")
	flag.IntVar(&cfg.Records, "n", 10000, "Number of records")
	flag.IntVar(&cfg.Fields, "fields", 10, "Fields per record")
	flag.IntVar(&cfg.ValueSize, "size", 100, "Field value size in bytes")
	flag.IntVar(&cfg.Concurrency, "c", 16, "Number of concurrent workers")
	flag.Float64Var(&cfg.ReadRatio, "read-ratio", 0.5, "Ratio of read operations")
	flag.Float64Var(&cfg.UpdateRatio, "update-ratio", 0.5, "Ratio of update operations, the rest are inserts")
	flag.DurationVar(&cfg.Duration, "duration", 1*time.Minute, "Benchmark duration")
	flag.BoolVar(&cfg.SkipLoad, "skip-load", false, "Skip the load phase")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file (stderr when empty)")

	flag.Parse()
	return cfg
}

func generateKeys(n int) []string {
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("user%07d", i)
	}
	return keys
}

func generateRecord(fields, size int) record.Record {
	rec := make(record.Record, fields)
	for i := 0; i < fields; i++ {
		value := make([]byte, size)
		for j := range value {
			value[j] = byte(' ' + rand.IntN(95))
		}
		rec[fmt.Sprintf("field%d", i)] = value
	}
	return rec
}

func load(db driver.DB, cfg *Config, keys []string) int {
	var (
		wg     sync.WaitGroup
		loaded atomic.Int64
		next   atomic.Int64
	)

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(next.Add(1)) - 1
				if idx >= len(keys) {
					return
				}
				if db.Insert(context.Background(), cfg.Table, keys[idx], generateRecord(cfg.Fields, cfg.ValueSize)) == driver.OK {
					loaded.Add(1)
				}
			}
		}()
	}

	wg.Wait()
	return int(loaded.Load())
}

func runBenchmark(db driver.DB, cfg *Config, keys []string, logger zerolog.Logger) *Metrics {
	metrics := &Metrics{}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	startTime := time.Now()

	// Create worker pool
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go worker(ctx, db, cfg, keys, metrics, &wg)
	}

	// Print progress periodically
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		var lastOps int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				currentOps := metrics.total()
				logger.Info().Int64("ops_per_sec", currentOps-lastOps).Msg("Progress")
				lastOps = currentOps
			}
		}
	}()

	wg.Wait()
	metrics.duration = time.Since(startTime)
	return metrics
}

func worker(ctx context.Context, db driver.DB, cfg *Config, keys []string, metrics *Metrics, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		key := keys[rand.IntN(len(keys))]
		start := time.Now()

		var (
			status driver.Status
			m      *opMetrics
		)
		switch p := rand.Float64(); {
		case p < cfg.ReadRatio:
			status = db.Read(ctx, cfg.Table, key, nil, record.Record{})
			m = &metrics.read
		case p < cfg.ReadRatio+(1-cfg.ReadRatio)*cfg.UpdateRatio:
			status = db.Update(ctx, cfg.Table, key, generateRecord(1, cfg.ValueSize))
			m = &metrics.update
		default:
			status = db.Insert(ctx, cfg.Table, key, generateRecord(cfg.Fields, cfg.ValueSize))
			m = &metrics.insert
		}

		// Operations cut short by the end of the run are not counted.
		if ctx.Err() != nil {
			return
		}

		m.ops.Add(1)
		if status != driver.OK {
			m.failed.Add(1)
			continue
		}
		m.latency.Add(time.Since(start).Microseconds())
	}
}

func printResults(m *Metrics) {
	total := m.total()

	fmt.Println("\nBenchmark Results:")
	fmt.Println("==================")
	fmt.Printf("Duration: %v\n", m.duration)
	fmt.Printf("Total Operations: %d\n", total)
	fmt.Printf("Operations/sec: %.2f\n", float64(total)/m.duration.Seconds())

	var failed int64
	for _, op := range []struct {
		name string
		m    *opMetrics
	}{
		{"Read", &m.read},
		{"Insert", &m.insert},
		{"Update", &m.update},
	} {
		ops, opFailed := op.m.ops.Load(), op.m.failed.Load()
		failed += opFailed
		if ops == 0 {
			continue
		}
		fmt.Printf("%s Operations: %d (failed: %d)\n", op.name, ops, opFailed)
		if ok := ops - opFailed; ok > 0 {
			fmt.Printf("Average %s Latency: %.2f ms\n", op.name, float64(op.m.latency.Load())/float64(ok)/1000)
		}
	}

	if total > 0 {
		fmt.Printf("Success Rate: %.2f%%\n", float64(total-failed)*100/float64(total))
	}
}
