package mcpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// StdIO is a Transport over a reader/writer pair, framing one JSON-RPC
// message per line. The server binary wires it to os.Stdin and os.Stdout;
// tests wire it to pipes.
type StdIO struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeMu sync.Mutex
}

// StdIOOption is a function that configures a StdIO transport.
type StdIOOption func(*StdIO)

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger.With(
			slog.String("package", "mcpd"),
			slog.String("transport", "stdio"),
		)
	}
}

// NewStdIO creates a stdio transport reading messages from reader and
// writing responses to writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		reader: reader,
		writer: writer,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

type lineWithErr struct {
	line string
	err  error
}

// Start reads newline-delimited messages until the stream ends or ctx is
// done, both of which return nil. Empty lines are skipped. Reading happens
// on its own goroutine so a blocked reader cannot stall shutdown.
func (s *StdIO) Start(ctx context.Context, messages chan<- string) error {
	// bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(s.reader)

	lines := make(chan lineWithErr)
	go func() {
		defer close(lines)
		for {
			line, err := reader.ReadString('\n')
			select {
			case <-ctx.Done():
				return
			case lines <- lineWithErr{line: line, err: err}:
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var lwe lineWithErr
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case lwe, ok = <-lines:
			if !ok {
				return nil
			}
		}

		line := strings.TrimSuffix(lwe.line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if lwe.err != nil {
			if errors.Is(lwe.err, io.EOF) {
				// A final unterminated line is still a message.
				if line != "" {
					s.push(ctx, messages, line)
				}
				return nil
			}
			return fmt.Errorf("failed to read message: %w", lwe.err)
		}

		if line == "" {
			continue
		}

		s.logger.Debug("received message", slog.String("message", line))

		if !s.push(ctx, messages, line) {
			return nil
		}
	}
}

func (s *StdIO) push(ctx context.Context, messages chan<- string, line string) bool {
	select {
	case <-ctx.Done():
		return false
	case messages <- line:
		return true
	}
}

// Send writes one message and a trailing newline. Writes are serialized so
// concurrent sends cannot interleave lines.
func (s *StdIO) Send(_ context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writer.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
