package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

// DefaultMaxLineSize bounds a single stdio payload.
const DefaultMaxLineSize = 1 << 20

// ErrBinaryCodec is returned by Serve when the dispatcher does not speak JSON.
// Binary payloads may contain newline bytes and cannot be line delimited.
var ErrBinaryCodec = errors.New("stdio transport requires the json codec")

// Stdio serves line-delimited payloads: one request or batch per input line,
// one reply per output line. Lines without a reply produce no output.
type Stdio struct {
	dispatcher  *jsonrpc.Dispatcher
	logger      *utils.Logger
	maxLineSize int
}

// NewStdio creates a stdio transport. A maxLineSize of zero selects
// DefaultMaxLineSize.
func NewStdio(dispatcher *jsonrpc.Dispatcher, logger *utils.Logger, maxLineSize int) *Stdio {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	return &Stdio{
		dispatcher:  dispatcher,
		logger:      logger.Named("rpc_stdio"),
		maxLineSize: maxLineSize,
	}
}

// Serve processes lines from in until it is exhausted or ctx is done. A line
// longer than the configured size ends the session with an error.
func (s *Stdio) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if ct := s.dispatcher.Codec().ContentType(); ct != jsonrpc.MediaTypeJSON {
		return fmt.Errorf("%w, got %s", ErrBinaryCodec, ct)
	}

	// The scanner allows tokens up to the larger of its limit and the initial
	// buffer capacity; the extra byte holds the newline.
	limit := s.maxLineSize + 1
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, min(64*1024, limit)), limit)
	w := bufio.NewWriter(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		reply, err := s.dispatcher.Call(ctx, line)
		if err != nil {
			s.logger.Error("Failed to serialize reply", err)
			continue
		}
		if reply == nil {
			continue
		}

		if _, err := w.Write(reply); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush reply: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
