package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/pkg/config"
	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/server"
)

const usage = `blackhole - TCP application server

Usage:
  blackhole <command> [flags]

Commands:
  init     Write a default configuration file
  start    Start the server

Flags:
  --config string   Path to config file (default: $XDG_CONFIG_HOME/blackhole/config.yaml)
  --force           Overwrite an existing config file (init only)

Environment variables (BLACKHOLE_*) override config file values,
e.g. BLACKHOLE_SERVER_PORT=9000.
`

const commandHelp = `Commands:
  status   Print the server counters
  quit     Shut down and exit
  help     Show this message
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file")
	force := fs.Bool("force", false, "Overwrite existing config file")
	_ = fs.Parse(args)

	path := *configFile
	if path == "" {
		p, err := config.InitConfig(*force)
		if err != nil {
			return err
		}
		path = p
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Edit it, then run: blackhole start")
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	if *configFile == "" && !config.ConfigExists() {
		fmt.Fprintf(os.Stderr, "No configuration found at %s, using defaults. Run 'blackhole init' to create one.\n",
			config.GetDefaultConfigPath())
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	if err := logger.Configure(config.LoggerConfig(&cfg.Logging)); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		logger.Flush()
		return err
	}
	srv.Start()

	// quit and the signals both end in the same shutdown.
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		commandLoop(gctx, os.Stdin, os.Stdout, srv.Stats(), quit)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown requested")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

// commandLoop reads commands from in until quit, EOF or ctx is done.
func commandLoop(ctx context.Context, in io.Reader, out io.Writer, stats *metrics.Stats, quit context.CancelFunc) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				// Stdin closed: keep serving until a signal arrives.
				<-ctx.Done()
				return
			}
			if err := runCommand(strings.TrimSpace(line), out, stats); err != nil {
				if errors.Is(err, errQuit) {
					quit()
					return
				}
				fmt.Fprintln(out, err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func runCommand(cmd string, out io.Writer, stats *metrics.Stats) error {
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "quit", "exit":
		return errQuit
	case "status":
		for _, s := range stats.Snapshot() {
			fmt.Fprintf(out, "%-24s %d\n", s.Name, s.Value)
		}
		fmt.Fprintln(out, metrics.Summary(stats))
		return nil
	case "help":
		fmt.Fprint(out, commandHelp)
		return nil
	default:
		return fmt.Errorf("unrecognized command %q, type 'help' for a list", cmd)
	}
}
