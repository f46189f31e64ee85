package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"

	"github.com/KevoDB/lsmcore/pkg/common/log"
	"github.com/KevoDB/lsmcore/pkg/config"
	"github.com/KevoDB/lsmcore/pkg/pagefile"
	"github.com/KevoDB/lsmcore/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".flush"),
	readline.PcItem(".dump"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("SCAN",
		readline.PcItem("SUFFIX"),
	),
	readline.PcItem("RANGE"),
)

const helpText = `
lsmcore - sorted pages and a concurrent skip list memtable.

Usage:
  lsmcore [options]

Options:
  -config PATH            - Load settings from a JSON configuration file
  -data DIR               - Directory for page files and the manifest
  -page-size N            - Size in bytes of every flushed page
  -compression CODEC      - Page compression: none, snappy, zstd or s2
  -log-level LEVEL        - debug, info, warn or error
  -telemetry              - Export metrics and traces to stdout

Commands:
  .help                   - Show this help message
  .exit                   - Exit the program
  .stats                  - Show statistics
  .flush                  - Write the memtable to a new page file
  .dump PATH              - Describe the pages of a page file

  PUT key value           - Store a key-value pair; keys in the memtable cannot be overwritten
  GET key                 - Retrieve a value by key
  SCAN                    - Scan all key-value pairs
  SCAN prefix             - Scan key-value pairs with given prefix
  SCAN SUFFIX suffix      - Scan key-value pairs with given suffix
  RANGE start end         - Scan key-value pairs in range [start, end)

Arguments may be quoted: PUT "my key" 'a value'
`

// options holds what the command line asked for
type options struct {
	configPath string
	dataDir    string
	pageSize   int
	codec      string
	logLevel   string
	telemetry  bool
}

func main() {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.NewStandardLogger(log.WithOutput(os.Stderr), log.WithLevel(level))
	log.SetDefaultLogger(logger)

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}

	s, err := openStore(cfg, logger, tel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %s\n", err)
		os.Exit(1)
	}

	runInteractive(s, watchSignals())

	shutdown(s, tel)
}

// parseFlags parses command line flags
func parseFlags() options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "lsmcore - sorted pages and a concurrent skip list memtable\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: lsmcore [options]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor the list of commands, start lsmcore and type .help\n")
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", "", "JSON configuration file")
	flag.StringVar(&opts.dataDir, "data", "", "Directory for page files and the manifest")
	flag.IntVar(&opts.pageSize, "page-size", 4096, "Size in bytes of every flushed page")
	flag.StringVar(&opts.codec, "compression", config.CompressionSnappy, "Page compression: none, snappy, zstd or s2")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flag.BoolVar(&opts.telemetry, "telemetry", false, "Export metrics and traces to stdout")
	flag.Parse()

	return opts
}

// loadConfig builds the configuration from defaults, the optional config
// file, the environment and finally the flags that were set explicitly
func loadConfig(opts options) (*config.Config, error) {
	cfg := config.NewDefaultConfig(opts.dataDir)
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Telemetry.LoadFromEnv()

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.DataDir = opts.dataDir
		case "page-size":
			cfg.PageSize = opts.pageSize
		case "compression":
			cfg.Compression = opts.codec
		case "log-level":
			cfg.LogLevel = opts.logLevel
		case "telemetry":
			cfg.Telemetry.Enabled = opts.telemetry
		}
	})

	// Without a data directory the store lives in memory only
	if cfg.DataDir == "" {
		cfg.DataDir = "."
		err := cfg.Validate()
		cfg.DataDir = ""
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// watchSignals delivers SIGINT and SIGTERM to the interactive session
func watchSignals() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

func shutdown(s *store, tel telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing store: %s\n", err)
	}
	if err := tel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
	}
}

// runInteractive starts the interactive CLI mode
func runInteractive(s *store, stop <-chan os.Signal) {
	fmt.Println("lsmcore version 0.1.0")
	fmt.Println("Enter .help for usage hints.")

	prompt := "lsmcore> "
	if s.cfg.DataDir != "" {
		prompt = fmt.Sprintf("lsmcore:%s> ", s.cfg.DataDir)
	}

	historyFile := filepath.Join(os.TempDir(), ".lsmcore_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}

	runSession(s, os.Stdout, rl, stop)
}

// lineReader is the part of *readline.Instance a session needs
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// runSession executes lines from rl until .exit, EOF, an interrupt on an
// empty line, or a signal on stop. A signal closes rl so the pending read
// returns; a command already running finishes first. The store is left open
// for the caller to shut down.
func runSession(s *store, out io.Writer, rl lineReader, stop <-chan os.Signal) {
	var closeOnce sync.Once
	closeReader := func() {
		closeOnce.Do(func() { rl.Close() })
	}
	defer closeReader()

	var stopped atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-stop:
			fmt.Fprintf(out, "\nReceived signal %v, shutting down...\n", sig)
			stopped.Store(true)
			closeReader()
		case <-done:
		}
	}()

	for {
		line, readErr := rl.Readline()
		if stopped.Load() {
			return
		}
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					return
				}
				continue
			} else if readErr == io.EOF {
				fmt.Fprintln(out, "Goodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if line == "" {
			continue
		}
		if !execute(s, out, line) {
			fmt.Fprintln(out, "Goodbye!")
			return
		}
	}
}

// execute runs one command line, writing results to out. It returns false
// when the session should end.
func execute(s *store, out io.Writer, line string) bool {
	parts, err := shellquote.Split(line)
	if err != nil {
		fmt.Fprintf(out, "Error parsing command: %s\n", err)
		return true
	}
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToUpper(parts[0])
	ctx := context.Background()

	printEntry := func(key, value []byte) error {
		fmt.Fprintf(out, "%s: %s\n", key, value)
		return nil
	}

	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(out, helpText)

		case ".exit":
			return false

		case ".stats":
			printStats(out, s.Stats())

		case ".flush":
			start := time.Now()
			res, err := s.Flush(ctx)
			if err != nil {
				fmt.Fprintf(out, "Error flushing memtable: %s\n", err)
				break
			}
			if res.Pages == 0 {
				fmt.Fprintln(out, "Nothing to flush")
				break
			}
			fmt.Fprintf(out, "Flushed %d entries into %d pages (%.2f ms)\n",
				res.Entries, res.Pages, float64(time.Since(start).Microseconds())/1000.0)

		case ".dump":
			if len(parts) < 2 {
				fmt.Fprintln(out, "Error: Missing path argument")
				break
			}
			if err := dumpPageFile(out, parts[1]); err != nil {
				fmt.Fprintf(out, "Error reading %s: %s\n", parts[1], err)
			}

		default:
			fmt.Fprintf(out, "Unknown command: %s\n", cmd)
		}
		return true
	}

	switch cmd {
	case "PUT":
		if len(parts) < 3 {
			fmt.Fprintln(out, "Error: PUT requires key and value arguments")
			break
		}
		if err := s.Put(ctx, []byte(parts[1]), []byte(strings.Join(parts[2:], " "))); err != nil {
			fmt.Fprintf(out, "Error putting value: %s\n", err)
			break
		}
		fmt.Fprintln(out, "Value stored")

	case "GET":
		if len(parts) < 2 {
			fmt.Fprintln(out, "Error: GET requires a key argument")
			break
		}
		value, err := s.Get([]byte(parts[1]))
		if errors.Is(err, errKeyNotFound) {
			fmt.Fprintln(out, "Key not found")
			break
		}
		if err != nil {
			fmt.Fprintf(out, "Error getting value: %s\n", err)
			break
		}
		fmt.Fprintf(out, "%s\n", value)

	case "SCAN":
		count := 0
		counting := func(key, value []byte) error {
			count++
			return printEntry(key, value)
		}

		var err error
		switch {
		case len(parts) >= 3 && strings.ToUpper(parts[1]) == "SUFFIX":
			err = s.ScanSuffix([]byte(parts[2]), counting)
		case len(parts) >= 2:
			err = s.Scan([]byte(parts[1]), counting)
		default:
			err = s.Scan(nil, counting)
		}
		if err != nil {
			fmt.Fprintf(out, "Error scanning: %s\n", err)
			break
		}
		fmt.Fprintf(out, "%d entries found\n", count)

	case "RANGE":
		if len(parts) < 3 {
			fmt.Fprintln(out, "Error: RANGE requires start and end arguments")
			break
		}
		count := 0
		err := s.Range([]byte(parts[1]), []byte(parts[2]), func(key, value []byte) error {
			count++
			return printEntry(key, value)
		})
		if err != nil {
			fmt.Fprintf(out, "Error scanning: %s\n", err)
			break
		}
		fmt.Fprintf(out, "%d entries found\n", count)

	default:
		fmt.Fprintf(out, "Unknown command: %s\n", cmd)
	}
	return true
}

// dumpPageFile prints one line per page of the file at path
func dumpPageFile(out io.Writer, path string) error {
	r, err := pagefile.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Fprintf(out, "%s: %d pages of %d bytes\n", path, r.Len(), r.PageSize())
	for i := 0; i < r.Len(); i++ {
		page, err := r.Page(i)
		if err != nil {
			return err
		}
		if page.Len() == 0 {
			fmt.Fprintf(out, "  page %d: empty\n", i)
			continue
		}
		first, err := page.First()
		if err != nil {
			return err
		}
		last, err := page.Last()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  page %d: %d entries, %d bytes used, %d snapshots, keys %q..%q\n",
			i, page.Len(), page.Size(), page.SnapshotCount(), first.Key(), last.Key())
	}
	return nil
}

// printStats prints statistics sorted by name, nested maps indented
func printStats(out io.Writer, st map[string]interface{}) {
	keys := make([]string, 0, len(st))
	for k := range st {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := st[k].(type) {
		case map[string]interface{}:
			fmt.Fprintf(out, "%s:\n", toTitle(k))
			printNested(out, v)
		case map[string]uint64:
			if len(v) == 0 {
				continue
			}
			nested := make(map[string]interface{}, len(v))
			for nk, nv := range v {
				nested[nk] = nv
			}
			fmt.Fprintf(out, "%s:\n", toTitle(k))
			printNested(out, nested)
		default:
			fmt.Fprintf(out, "%s: %v\n", toTitle(k), v)
		}
	}
}

func printNested(out io.Writer, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  • %s: %v\n", toTitle(k), m[k])
	}
}

// toTitle turns "flushed_pages" into "Flushed Pages"
func toTitle(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
