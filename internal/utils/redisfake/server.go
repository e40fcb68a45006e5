// Package redisfake serves the handful of Redis commands the cache and the
// locker send, over real RESP on a loopback port, so both can be tested with
// the production go-redis client and no redis-server.
package redisfake

import (
	"bufio"   // RESP framing
	"errors"  // Protocol errors
	"fmt"     // Reply formatting
	"io"      // EOF handling
	"net"     // Loopback listener
	"strconv" // Integer parsing
	"strings" // Command names
	"sync"    // Guards the keyspace
	"testing" // Cleanup registration
	"time"    // Key expiry

	"github.com/redis/go-redis/v9" // Redis client
)

// releaseGuard is the comparison every supported EVAL script starts with
const releaseGuard = `redis.call("GET", KEYS[1]) == ARGV[1]`

type entry struct {
	val     string
	expires time.Time
}

// Server is an in-process stand-in for redis-server
type Server struct {
	ln     net.Listener
	mu     sync.Mutex
	data   map[string]entry
	offset time.Duration // Added to the wall clock by FastForward
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Start listens on a random loopback port and stops when tb finishes
func Start(tb testing.TB) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("redisfake: listen: %v", err)
	}
	s := &Server{ln: ln, data: map[string]entry{}, conns: map[net.Conn]struct{}{}}
	s.wg.Add(1)
	go s.serve()
	tb.Cleanup(s.Close)
	return s
}

// Addr is the host:port to dial
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Client returns a go-redis client for this server. It is closed with the server's test.
func (s *Server) Client(tb testing.TB) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:            s.Addr(), // Fake server address
		DisableIdentity: true,     // Skip CLIENT SETINFO on connect
	})
	tb.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// Close stops accepting connections and drops the open ones
func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// FastForward moves the server clock so TTLs can expire without sleeping
func (s *Server) FastForward(d time.Duration) {
	s.mu.Lock()
	s.offset += d
	s.mu.Unlock()
}

// Get reads a key directly, bypassing the protocol
func (s *Server) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	return e.val, ok
}

// Set writes a key directly with no expiry
func (s *Server) Set(key, val string) {
	s.mu.Lock()
	s.data[key] = entry{val: val}
	s.mu.Unlock()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // Listener closed
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		w.WriteString(s.exec(args))
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

// live returns a key's entry, dropping it once expired. Callers hold mu.
func (s *Server) live(key string) (entry, bool) {
	e, ok := s.data[key]
	if ok && !e.expires.IsZero() && !time.Now().Add(s.offset).Before(e.expires) {
		delete(s.data, key) // Expired
		return entry{}, false
	}
	return e, ok
}

func (s *Server) exec(args []string) string {
	if len(args) == 0 {
		return "-ERR empty command\r\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd := strings.ToUpper(args[0]); cmd {
	case "PING":
		return "+PONG\r\n"
	case "GET":
		if len(args) != 2 {
			return wrongArgs(cmd)
		}
		if e, ok := s.live(args[1]); ok {
			return bulk(e.val)
		}
		return "$-1\r\n"
	case "SET":
		return s.set(args)
	case "DEL":
		if len(args) < 2 {
			return wrongArgs(cmd)
		}
		n := 0
		for _, k := range args[1:] {
			if _, ok := s.live(k); ok {
				delete(s.data, k)
				n++
			}
		}
		return fmt.Sprintf(":%d\r\n", n)
	case "EVALSHA":
		return "-NOSCRIPT No matching script. Please use EVAL.\r\n"
	case "EVAL":
		return s.eval(args)
	}
	return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
}

// set handles SET key value [PX ms | EX s] [NX]
func (s *Server) set(args []string) string {
	if len(args) < 3 {
		return wrongArgs("SET")
	}
	key, val := args[1], args[2]
	var ttl time.Duration
	nx := false
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "PX", "EX":
			if i+1 >= len(args) {
				return "-ERR syntax error\r\n"
			}
			n, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || n <= 0 {
				return "-ERR invalid expire time in 'set' command\r\n"
			}
			unit := time.Millisecond
			if strings.EqualFold(args[i], "EX") {
				unit = time.Second
			}
			ttl = time.Duration(n) * unit
			i++
		default:
			return "-ERR syntax error\r\n"
		}
	}
	if _, exists := s.live(key); exists && nx {
		return "$-1\r\n"
	}
	e := entry{val: val}
	if ttl > 0 {
		e.expires = time.Now().Add(s.offset).Add(ttl)
	}
	s.data[key] = e
	return "+OK\r\n"
}

// eval runs the token-checked delete used to release locks
func (s *Server) eval(args []string) string {
	if len(args) != 5 || args[2] != "1" {
		return "-ERR only single-key release scripts are supported\r\n"
	}
	if !strings.Contains(args[1], releaseGuard) {
		return "-ERR unsupported script\r\n"
	}
	key, token := args[3], args[4]
	if e, ok := s.live(key); ok && e.val == token {
		delete(s.data, key)
		return ":1\r\n"
	}
	return ":0\r\n"
}

func bulk(v string) string { return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v) }

func wrongArgs(cmd string) string {
	return fmt.Sprintf("-ERR wrong number of arguments for '%s' command\r\n", strings.ToLower(cmd))
}

var errProtocol = errors.New("redisfake: protocol error")

// readCommand reads one RESP array of bulk strings
func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '*' {
		return nil, errProtocol
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 0 {
		return nil, errProtocol
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(header) == 0 || header[0] != '$' {
			return nil, errProtocol
		}
		size, err := strconv.Atoi(header[1:])
		if err != nil || size < 0 {
			return nil, errProtocol
		}
		buf := make([]byte, size+2) // Payload plus CRLF
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\r\n"), nil
}
