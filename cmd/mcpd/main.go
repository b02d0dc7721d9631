package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolrpc/mcpd"
	"github.com/toolrpc/mcpd/tools"
)

var (
	logFile       string
	transportName string
	address       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcpd",
		Short: "MCP tool server over stdio or websocket",
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "mcpd.log", "File to write logs to")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "stdio", "Transport to serve on: stdio or websocket")
	rootCmd.PersistentFlags().StringVar(&address, "address", "127.0.0.1:8080", "Listen address for the websocket transport")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(_ *cobra.Command, _ []string) error {
	// Logs go to a file: on the stdio transport, stdout carries protocol
	// messages and nothing else.
	logger, closeLog, err := newLogger(logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	var transport mcpd.Transport
	switch transportName {
	case "stdio":
		transport = mcpd.NewStdIO(os.Stdin, os.Stdout, mcpd.WithStdIOLogger(logger))
	case "websocket":
		transport = mcpd.NewWebSocket(address, mcpd.WithWebSocketLogger(logger))
	default:
		return fmt.Errorf("invalid transport type: %s", transportName)
	}

	store := tools.NewStore()

	echo, err := mcpd.NewToolHandler(tools.NewEcho())
	if err != nil {
		return fmt.Errorf("failed to register echo tool: %w", err)
	}
	memory, err := mcpd.NewToolHandler(tools.NewMemory(store))
	if err != nil {
		return fmt.Errorf("failed to register memory tool: %w", err)
	}
	fetch, err := mcpd.NewToolHandler(tools.NewFetch())
	if err != nil {
		return fmt.Errorf("failed to register fetch tool: %w", err)
	}

	srv, err := mcpd.NewServer(
		mcpd.Info{Name: "mcpd", Version: "0.1.0"},
		transport,
		mcpd.WithLogger(logger),
		mcpd.WithInstructions("Basic MCP server with tool support"),
		mcpd.WithTools(echo, memory, fetch),
		mcpd.WithResources(mcpd.Resource{
			URI:         "file:///example.txt",
			Name:        "example.txt",
			Description: "An example text file",
			MimeType:    "text/plain",
		}),
		mcpd.WithPrompts(mcpd.Prompt{
			Name:        "greet",
			Description: "A friendly greeting prompt",
			Arguments: []mcpd.PromptArgument{
				{
					Name:        "name",
					Description: "Name of the person to greet",
					Required:    true,
				},
			},
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server",
		slog.String("transport", transportName),
		slog.String("logFile", logFile))

	return srv.Run(ctx)
}

func newLogger(path string) (*slog.Logger, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	return logger, func() { f.Close() }, nil
}
