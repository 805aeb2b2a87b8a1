package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/client"
	"github.com/DeltaLaboratory/dotted/internal/config"
	"github.com/DeltaLaboratory/dotted/internal/driver"
	"github.com/DeltaLaboratory/dotted/internal/faults"
	"github.com/DeltaLaboratory/dotted/internal/logging"
	"github.com/DeltaLaboratory/dotted/internal/query"
	"github.com/DeltaLaboratory/dotted/internal/record"
	"github.com/DeltaLaboratory/dotted/internal/server"

	_ "embed"
)

var (
	driverName = flag.String("driver", "dotted", "Driver: dotted or basic")
	configFile = flag.String("config", "", "Configuration file (.yaml, .json or .properties)")
	hosts      = flag.String("hosts", "", "Comma-separated host:port list, overrides the configuration")
	adminAddr  = flag.String("admin", "", "Inspection RPC address of a mock node")
	timeout    = flag.Duration("timeout", 5*time.Second, "Per-statement timeout")
	logLevel   = flag.String("log-level", "warn", "Log level")
)

//go:embed help
var helpString string

func main() {
	flag.Parse()

	logger, closer, err := logging.New(logging.Options{Level: *logLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()
	logging.NewALogAdapter(logger).Install()

	props, err := loadProperties()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	d, err := driver.New(*driverName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create driver")
	}
	if err := d.Init(context.Background(), props); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize driver")
	}
	defer func() {
		if err := d.Cleanup(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to clean up driver")
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt: ">> ",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize readline")
	}
	defer rl.Close()

	fmt.Printf("Client, %s driver (type '.help' for help, '.exit' to quit)\n", d.Name())
	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case ".help":
			fmt.Println(helpString)
		case ".exit":
			return
		case ".nodes":
			printNodes(d.Client())
		case ".stats":
			printStats(logger)
		default:
			handleQuery(d, line)
		}
	}
}

func loadProperties() (config.Properties, error) {
	props := config.Properties{}
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, err
		}
		props = loaded
	}
	if *hosts != "" {
		props = props.Merge(config.Properties{config.Key(*driverName, "cluster_hosts"): *hosts})
	}
	return props, nil
}

func handleQuery(d *driver.Driver, input string) {
	parsed, err := query.Parse(input)
	if err != nil {
		fmt.Println("Parsing Error:", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := d.Client()
	switch req := parsed.(type) {
	case query.ReadRequest:
		rec, err := c.Read(ctx, req.Table, req.Key)
		if err != nil {
			printError(err)
			return
		}
		printRecord(req.Table, req.Key, record.Project(rec, req.Fields))

	case query.InsertRequest:
		if err := c.Insert(ctx, req.Table, req.Key, req.Values); err != nil {
			printError(err)
			return
		}
		fmt.Printf("INSERT: %s/%s (%d fields)\n", req.Table, req.Key, len(req.Values))

	case query.UpdateRequest:
		if err := c.Update(ctx, req.Table, req.Key, req.Values); err != nil {
			printError(err)
			return
		}
		fmt.Printf("UPDATE: %s/%s (%d fields)\n", req.Table, req.Key, len(req.Values))

	case query.DeleteRequest:
		if err := c.Delete(ctx, req.Table, req.Key); err != nil {
			printError(err)
			return
		}
		fmt.Printf("DELETE: %s/%s\n", req.Table, req.Key)

	case query.ScanRequest:
		recs, _ := c.Scan(ctx, req.Table, req.StartKey, req.Count)
		fmt.Printf("SCAN: %d records (scan is not supported by the cluster)\n", len(recs))

	case query.OptionsRequest:
		outcomes, err := d.PushOptions(ctx, req.Params)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		for _, o := range outcomes {
			if o.Acked {
				fmt.Printf("OPTIONS: %s applied\n", o.Endpoint)
			} else {
				fmt.Printf("OPTIONS: %s not set: %v\n", o.Endpoint, o.Err)
			}
		}
		fmt.Printf("OPTIONS: %d/%d nodes acknowledged\n", len(outcomes)-faults.Failed(outcomes), len(outcomes))
	}
}

func printError(err error) {
	fmt.Printf("error (%s): %v\n", client.KindOf(err), err)
}

func printRecord(table, key string, rec record.Record) {
	fields := rec.Fields()
	sort.Strings(fields)

	fmt.Printf("READ: %s/%s\n", table, key)
	for _, f := range fields {
		fmt.Printf("  %s = %q\n", f, rec[f])
	}
}

func printNodes(c *client.Client) {
	for i, conn := range c.Pool().Conns() {
		state := "connected"
		if err := conn.Err(); err != nil {
			state = "broken: " + err.Error()
		} else if !conn.Connected() {
			state = "closed"
		}
		fmt.Printf("%d. %s %s\n", i+1, conn.Endpoint(), state)
	}
}

func printStats(logger zerolog.Logger) {
	if *adminAddr == "" {
		fmt.Println("no -admin address given")
		return
	}

	admin, err := server.DialAdmin(*adminAddr, *timeout)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to reach admin")
		fmt.Printf("error: %v\n", err)
		return
	}
	defer admin.Close()

	stats, err := admin.Stats()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	opts, err := admin.Options()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Printf("get=%d put=%d update=%d delete=%d options=%d not_found=%d malformed=%d failed=%d\n",
		stats.Get, stats.Put, stats.Update, stats.Delete, stats.Options, stats.NotFound, stats.Malformed, stats.Failed)
	if opts.Pushed {
		fmt.Printf("options: sync=%d strip=%d replication_failure_rate=%v node_failure_rate=%d\n",
			opts.Options.SyncInterval, opts.Options.StripInterval, opts.Options.ReplicationFailureRate, opts.Options.NodeFailureRate)
	} else {
		fmt.Println("options: none pushed")
	}
}
