package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// acceptTimeout bounds how long a listener waits for its single client.
const acceptTimeout = 5 * time.Minute

// RunTCPListener binds addr, announces the bound address on ready, accepts
// exactly one client, and relays the client's event stream into rep. It
// returns once the stream ends on EOF or after an End event.
func RunTCPListener(ctx context.Context, addr string, rep Reporter, ready chan<- string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("bind tcp listener: %w", err)
	}
	return serveOne(ctx, ln, rep, ready)
}

// RunUnixListener is RunTCPListener over a Unix-domain socket at path. A
// stale socket file at path is removed before binding.
func RunUnixListener(ctx context.Context, path string, rep Reporter, ready chan<- string) error {
	os.Remove(path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("bind unix listener: %w", err)
	}
	return serveOne(ctx, ln, rep, ready)
}

func serveOne(ctx context.Context, ln net.Listener, rep Reporter, ready chan<- string) error {
	defer ln.Close()

	// Cancellation unblocks Accept by closing the listener.
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	if d, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		if err := d.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
	}

	if ready != nil {
		select {
		case ready <- ln.Addr().String():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("accept test client: %w", err)
	}
	defer conn.Close()

	return Relay(conn, rep)
}

// Relay decodes event frames from r into rep until the stream ends on EOF
// or an End event is observed.
func Relay(r io.Reader, rep Reporter) error {
	for {
		ev, err := ReadEvent(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		rep.Report(ev)
		if ev.Type == EventEnd {
			return nil
		}
	}
}
