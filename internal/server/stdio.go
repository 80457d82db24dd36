// Package server implements the line-delimited request/response transport
// cascade-memory speaks on its standard streams (spec §1 calls the framing
// itself an external collaborator; this package is that collaborator).
//
// Framing is one JSON object per line on stdin, one JSON object per line on
// stdout — simpler than the Content-Length-header framing codeNERD's LSP
// server uses, but the same read-loop/dispatch-switch/write-response shape,
// adapted from header-delimited messages to newline-delimited ones and from
// an LSP method table to the fixed cascade-memory tool vocabulary.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/For-Sunny/cascade-memory/internal/cascade"
	"github.com/For-Sunny/cascade-memory/internal/logging"
)

// Stdio serves requests read line-by-line from r, dispatched through d, with
// responses written line-by-line to w. One response per request, in the
// order requests are read — storage calls are already serialized per layer
// inside the Coordinator, so the loop itself does not need its own lock.
type Stdio struct {
	dispatcher *cascade.Dispatcher
	reader     io.Reader
	writer     io.Writer
	writeMu    sync.Mutex
}

// NewStdio builds a stdio server bound to dispatcher, reading from r and
// writing to w.
func NewStdio(dispatcher *cascade.Dispatcher, r io.Reader, w io.Writer) *Stdio {
	return &Stdio{dispatcher: dispatcher, reader: r, writer: w}
}

// Serve reads one JSON request per line until ctx is cancelled or the
// reader reaches EOF. A malformed line produces an error response for that
// line and the loop continues — one bad line never aborts the session.
func (s *Stdio) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req cascade.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(cascade.Response{
				Success: false,
				Error: &cascade.ErrorBody{
					Code:       string(cascade.CodeInvalidInput),
					Message:    "malformed request line",
					StatusCode: 400,
				},
			})
			continue
		}

		resp := s.dispatcher.Dispatch(req)
		if err := s.writeResponse(resp); err != nil {
			logging.Dispatch("write response for %s failed: %v", req.Tool, err)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Stdio) writeResponse(resp cascade.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.writer.Write(data)
	return err
}
