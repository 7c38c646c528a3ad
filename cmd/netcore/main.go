package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcore"
	"github.com/opd-ai/netcore/limits"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeDemo   = "demo"
)

// CLI configuration
type CLIConfig struct {
	mode           string
	address        string
	port           uint
	connectTimeout time.Duration
	overallTimeout time.Duration
	count          int
	interval       time.Duration
	payloadSize    int
	pollTimeout    time.Duration
	sendBuffer     int
	recvBuffer     int
	logLevel       string
	logFile        string
	help           bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
func parseCLIFlags(name string, args []string) (*CLIConfig, *flag.FlagSet, error) {
	config := &CLIConfig{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Mode and network
	fs.StringVar(&config.mode, "mode", modeDemo, "Run mode (server, client, demo)")
	fs.StringVar(&config.address, "address", "127.0.0.1", "Listen or connect address")
	fs.UintVar(&config.port, "port", 5327, "Listen or connect port")

	// Timeouts
	fs.DurationVar(&config.connectTimeout, "connect-timeout", 5*time.Second, "Connect timeout")
	fs.DurationVar(&config.overallTimeout, "overall-timeout", time.Minute, "Client and demo run limit")
	fs.DurationVar(&config.pollTimeout, "poll-timeout", 10*time.Millisecond, "Readiness poll timeout")

	// Traffic
	fs.IntVar(&config.count, "count", 10, "Number of packets the client sends")
	fs.DurationVar(&config.interval, "interval", 100*time.Millisecond, "Delay between client packets")
	fs.IntVar(&config.payloadSize, "payload-size", 64, "Client payload size in bytes")
	fs.IntVar(&config.sendBuffer, "send-buffer", limits.DefaultSendBufferCapacity, "Send buffer capacity")
	fs.IntVar(&config.recvBuffer, "recv-buffer", limits.DefaultRecvBufferCapacity, "Receive buffer capacity")

	// Logging configuration
	fs.StringVar(&config.logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&config.logFile, "log-file", "", "Log file path (default: stderr)")

	// Help
	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return config, fs, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "netcore echo tool")
	fmt.Fprintln(w, "=================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options]\n", fs.Name())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  # Echo server on the default port\n")
	fmt.Fprintf(w, "  %s -mode server\n", fs.Name())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  # Send 100 packets of 1 KiB to a running server\n")
	fmt.Fprintf(w, "  %s -mode client -count 100 -payload-size 1024 -interval 10ms\n", fs.Name())
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	switch config.mode {
	case modeServer, modeDemo:
		if config.port > 65535 {
			return fmt.Errorf("invalid port: must be between 0 and 65535")
		}
	case modeClient:
		if config.port == 0 || config.port > 65535 {
			return fmt.Errorf("invalid port: must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("invalid mode %q: must be server, client or demo", config.mode)
	}

	if config.address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if config.connectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if config.mode != modeServer {
		if config.overallTimeout <= 0 {
			return fmt.Errorf("overall timeout must be positive")
		}
		if config.count <= 0 {
			return fmt.Errorf("count must be positive")
		}
		if config.interval < 0 {
			return fmt.Errorf("interval cannot be negative")
		}
	}

	if config.payloadSize < 0 || config.payloadSize > limits.MaxPayloadSize {
		return fmt.Errorf("payload size must be between 0 and %d", limits.MaxPayloadSize)
	}

	if config.pollTimeout < 0 {
		return fmt.Errorf("poll timeout cannot be negative")
	}

	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return fmt.Errorf("invalid log level %q", config.logLevel)
	}

	return nil
}

// createOptions converts CLI configuration to core options.
func createOptions(config *CLIConfig) *netcore.Options {
	opts := netcore.NewOptions()
	opts.PollTimeout = config.pollTimeout
	opts.ConnectTimeout = config.connectTimeout
	opts.SendBufferCapacity = config.sendBuffer
	opts.RecvBufferCapacity = config.recvBuffer
	return opts
}

// setupLogging applies the log level and output. The returned closer
// releases the log file, if any.
func setupLogging(config *CLIConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(config.logLevel))
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})

	if config.logFile == "" {
		logrus.SetOutput(os.Stderr)
		return io.NopCloser(os.Stderr), nil
	}
	f, err := os.OpenFile(config.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(f)
	return f, nil
}

// setupSignalHandling sets up graceful shutdown on interrupt signals.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		sig := <-sigChan
		logrus.WithFields(logrus.Fields{
			"function": "setupSignalHandling",
			"signal":   sig.String(),
		}).Info("Shutting down")
		cancel()
	}()
}

func main() {
	cliConfig, fs, err := parseCLIFlags(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout, fs)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Argument error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(2)
	}

	if cliConfig.help {
		printUsage(os.Stdout, fs)
		os.Exit(0)
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	closer, err := setupLogging(cliConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	summary, err := run(ctx, cliConfig)
	if summary != nil {
		fmt.Println(*summary)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "netcore: %v\n", err)
		closer.Close()
		os.Exit(1)
	}
}
