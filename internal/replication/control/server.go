package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"

	"github.com/sirupsen/logrus"
)

// Handler implements the three commands the control socket exposes. A
// pattern is a glob matched against a destination's remote name; an
// empty pattern matches every destination.
type Handler interface {
	List(pattern string, detail bool) []DestinationStatus
	Start(ctx context.Context, pattern string, now bool) error
	Stop(ctx context.Context, pattern string, wait bool) error
}

// Server listens on a unix socket and serves Request/Response pairs,
// one per connection.
type Server struct {
	listener net.Listener
	handler  Handler
	log      *logrus.Entry
}

// NewServer removes any stale socket file at path and starts listening.
func NewServer(path string, handler Handler, log *logrus.Entry) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}

	return &Server{listener: l, handler: handler, log: log}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.WithError(err).Warn("control: failed to decode request")
		return
	}

	resp := s.dispatch(ctx, req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.WithError(err).Warn("control: failed to encode response")
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Command {
	case "list":
		return Response{OK: true, Destinations: s.handler.List(req.Pattern, req.Detail)}
	case "start":
		if err := s.handler.Start(ctx, req.Pattern, req.Now); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}
	case "stop":
		if err := s.handler.Stop(ctx, req.Pattern, req.Wait); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}
	default:
		return errResponse(errors.New("control: unknown command " + req.Command))
	}
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}
