package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

type StdioMCPServer interface {
	AddEndpoint(method mcp.MCPMethod, endpoint MCPEndpoint) error
	Listen(ctx context.Context) error
}

// NewStdioMCPServer serves newline delimited JSON-RPC requests read from in
// and writes one response line per request to out. Notifications, which
// carry no id, are read and dropped. A line that is not JSON gets a parse
// error with a null id.
func NewStdioMCPServer(in io.Reader, out io.Writer) StdioMCPServer {
	return &stdioMCPServer{
		in:        in,
		out:       out,
		endpoints: make(map[mcp.MCPMethod]MCPEndpoint),
	}
}

type stdioMCPServer struct {
	in        io.Reader
	out       io.Writer
	endpoints map[mcp.MCPMethod]MCPEndpoint
	sync.RWMutex
}

func (s *stdioMCPServer) Listen(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lines := make(chan string)
	errs := make(chan error, 1)

	go func(ctx context.Context, lines chan<- string, errs chan<- error) {
		defer close(lines)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}(ctx, lines, errs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}

			if line == "" {
				continue
			}

			var req JSONRPCRequest
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				if err := s.write(ParseError()); err != nil {
					return err
				}

				continue
			}

			if req.ID.IsNil() {
				continue
			}

			s.RLock()
			endpoint, ok := s.endpoints[req.Method]
			s.RUnlock()

			var resp mcp.JSONRPCMessage
			if ok {
				resp = endpoint(ctx, req)
			} else {
				resp = MethodNotFound(req.ID)
			}

			if err := s.write(resp); err != nil {
				return err
			}
		}
	}
}

func (s *stdioMCPServer) write(msg mcp.JSONRPCMessage) error {
	// An unencodable response is skipped.
	bs, err := json.Marshal(msg)
	if err != nil {
		return nil
	}

	_, err = fmt.Fprintf(s.out, "%s\n", bs)
	return err
}

func (s *stdioMCPServer) AddEndpoint(method mcp.MCPMethod, endpoint MCPEndpoint) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.endpoints[method]; ok {
		return errors.New("endpoint already exists")
	}

	s.endpoints[method] = endpoint
	return nil
}
