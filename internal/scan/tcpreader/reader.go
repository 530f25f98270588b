// Package tcpreader drives fixed RFID readers that bridge tag reads to
// a newline-delimited "id,rssi" stream over TCP.
//
// The reader is treated as an opaque device: one connection per
// inventory run, read faults forwarded to the error subscriber, no
// reconnect policy of its own.
package tcpreader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/scan"
)

const dialTimeout = 5 * time.Second

type Reader struct {
	Addr string

	logger logger.Logger

	mu    sync.Mutex
	conn  net.Conn
	onTag func(scan.TagEvent)
	onErr func(error)
}

func New(addr string, logger logger.Logger) *Reader {
	return &Reader{
		Addr:   addr,
		logger: logger,
	}
}

func (r *Reader) StartScan(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return fmt.Errorf("reader at %s already scanning", r.Addr)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("cant connect to reader at %s. Err: %w", r.Addr, err)
	}

	r.conn = conn
	go r.readLoop(conn)

	r.logger.Info("Reader connected", "addr", r.Addr)
	return nil
}

func (r *Reader) StopScan(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	err := r.conn.Close()
	r.conn = nil

	if err != nil {
		return fmt.Errorf("error while closing reader connection. Err: %w", err)
	}
	return nil
}

func (r *Reader) Subscribe(onTag func(scan.TagEvent), onErr func(error)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onTag = onTag
	r.onErr = onErr

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.onTag = nil
		r.onErr = nil
	}
}

func (r *Reader) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		ev, err := parseLine(scanner.Text())
		if err != nil {
			r.logger.Debug("Skipping malformed reader line", "error", err)
			continue
		}

		r.mu.Lock()
		onTag := r.onTag
		r.mu.Unlock()

		if onTag != nil {
			onTag(ev)
		}
	}

	// A closed connection after StopScan is a normal shutdown;
	// anything else is a hardware fault the consumer should hear about
	err := scanner.Err()

	r.mu.Lock()
	stopped := r.conn == nil || r.conn != conn
	if !stopped {
		// The stream died on its own, release the connection so the
		// workflow can reconnect with a fresh StartScan
		r.conn = nil
	}
	onErr := r.onErr
	r.mu.Unlock()

	if stopped {
		return
	}

	if err == nil {
		// Scanner reports a peer-initiated close (EOF) as a clean end
		// of stream; without StopScan it is a dead reader
		err = errors.New("reader closed the connection")
	}

	r.logger.Warn("Reader stream failed", "addr", r.Addr, "error", err)
	if onErr != nil {
		onErr(fmt.Errorf("reader stream failed: %w", err))
	}
}

// parseLine decodes one "id,rssi" line, e.g. "E2000017221101441890,-52"
func parseLine(line string) (scan.TagEvent, error) {
	line = strings.TrimSpace(line)

	id, rssi, found := strings.Cut(line, ",")
	if !found || id == "" {
		return scan.TagEvent{}, fmt.Errorf("malformed line %q", line)
	}

	signal, err := strconv.Atoi(strings.TrimSpace(rssi))
	if err != nil {
		return scan.TagEvent{}, fmt.Errorf("malformed rssi in line %q: %w", line, err)
	}

	return scan.TagEvent{ID: strings.TrimSpace(id), SignalStrength: signal}, nil
}
