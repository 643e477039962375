// Package httpbridge implements the program driver pairing gorilla/mux for
// routing and gorilla/websocket for the upgrade: EXEC starts a listener,
// and each accepted WebSocket connection becomes a per-connection
// discrete-stream file exposed as a child through the same file's
// directory contract, per SPEC_FULL.md §6.
package httpbridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/reactorfs/upd/driver"
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.httpbridge"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type state struct {
	mu       sync.Mutex
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	children map[string]*file.File
	nextConn uint64
}

// Driver exposes a program file (EXEC starts the listener; a second EXEC
// on a running bridge aborts, and Shutdown or Deinit stops it) that is
// also a directory (LIST/FIND/RM over live connection files), matching
// spec.md's description of drivers presenting multiple request categories
// off one descriptor.
type Driver struct {
	host    driver.Host
	addr    string
	limiter *RateLimiter
}

// Option configures a Driver at construction time, following the
// functional-options idiom the teacher uses for eventloop construction.
type Option func(*Driver)

// WithRateLimiter overrides the default per-remote-address connection rate
// limit applied in acceptConn. Passing a nil Limiter disables rate limiting.
func WithRateLimiter(l *RateLimiter) Option {
	return func(d *Driver) { d.limiter = l }
}

// defaultConnRates bounds how fast a single remote address may open new
// WebSocket connections: at most 5 per second, 60 per minute.
var defaultConnRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// New constructs an httpbridge driver that listens on addr once EXEC'd.
// New connections are rate-limited per remote address by default; pass
// WithRateLimiter(nil) to disable.
func New(host driver.Host, addr string, opts ...Option) *Driver {
	d := &Driver{host: host, addr: addr, limiter: NewRateLimiter(defaultConnRates)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string { return Name }

func (d *Driver) Init(f *file.File) error {
	f.Param = &state{
		router:   mux.NewRouter(),
		children: make(map[string]*file.File),
	}
	return nil
}

func (d *Driver) Deinit(f *file.File) {
	st := f.Param.(*state)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.server != nil {
		_ = st.server.Close()
	}
	for _, child := range st.children {
		if d.host != nil {
			_, _ = d.host.File().Unref(child)
		}
	}
}

func (d *Driver) Categories() []req.Category {
	return []req.Category{req.CategoryProgram, req.CategoryDirectory}
}
func (d *Driver) ABIVersion() int { return 1 }

func (d *Driver) Handle(r *req.Request) bool {
	switch r.Category {
	case req.CategoryProgram:
		return d.handleProgram(r)
	case req.CategoryDirectory:
		return d.handleDirectory(r)
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func (d *Driver) handleProgram(r *req.Request) bool {
	switch r.Program.Op {
	case req.ProgramExec:
		return d.handleStart(r)
	case req.ProgramCompile:
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func (d *Driver) handleStart(r *req.Request) bool {
	st := r.File.Param.(*state)

	st.mu.Lock()
	if st.server != nil {
		st.mu.Unlock()
		r.Result = req.ResultAborted
		return false
	}

	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		st.mu.Unlock()
		r.Result = req.ResultAborted
		return false
	}
	st.listener = ln

	st.router.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		d.acceptConn(r.File, st, w, req)
	})
	st.server = &http.Server{Handler: st.router}
	st.mu.Unlock()

	if d.host != nil {
		d.host.Iso().StartThread(func(done <-chan struct{}) {
			go func() {
				<-done
				_ = st.server.Close()
			}()
			_ = st.server.Serve(ln)
		})
	}

	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func (d *Driver) acceptConn(parent *file.File, st *state, w http.ResponseWriter, hr *http.Request) {
	if d.limiter != nil {
		if _, ok := d.limiter.Allow(remoteAddr(hr)); !ok {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, hr, nil)
	if err != nil {
		return
	}
	if d.host == nil {
		_ = conn.Close()
		return
	}

	cd := &connDriver{conn: conn}
	cd.writer = newFrameBatcher(8, 5*time.Millisecond, cd.flushWrites)

	// acceptConn runs on the goroutine http.Server.Serve spawned per
	// connection, not the loop thread; file.Registry and st.children are
	// loop-owned, so the registration has to hop back via Iso().Submit
	// rather than touching them directly from here.
	err = d.host.Iso().Submit(func() {
		connFile, err := d.host.File().New(cd)
		if err != nil {
			_ = conn.Close()
			return
		}

		st.mu.Lock()
		st.nextConn++
		name := "conn-" + strconv.FormatUint(st.nextConn, 10)
		st.children[name] = connFile
		st.mu.Unlock()
	})
	if err != nil {
		_ = conn.Close()
	}
}

// remoteAddr strips the port from hr.RemoteAddr so the rate limiter
// buckets by host, not by ephemeral client port.
func remoteAddr(hr *http.Request) string {
	host, _, err := net.SplitHostPort(hr.RemoteAddr)
	if err != nil {
		return hr.RemoteAddr
	}
	return host
}

func (d *Driver) handleDirectory(r *req.Request) bool {
	st := r.File.Param.(*state)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch r.Dir.Op {
	case req.DirList:
		names := make([]string, 0, len(st.children))
		for name := range st.children {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]req.DirChild, 0, len(names))
		for _, name := range names {
			entries = append(entries, req.DirChild{Name: name, File: st.children[name]})
		}
		r.Dir.Entries = entries
	case req.DirFind:
		r.Dir.Entry = st.children[r.Dir.Name]
	case req.DirRemove:
		child, ok := st.children[r.Dir.Name]
		if !ok {
			r.Result = req.ResultAborted
			return false
		}
		delete(st.children, r.Dir.Name)
		if d.host != nil {
			_, _ = d.host.File().Unref(child)
		}
	default:
		r.Result = req.ResultInvalid
		return false
	}
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

// connDriver is the per-connection discrete-stream driver: one WRITE enqueues
// one WebSocket text frame with the others concurrently pending on the same
// connection, one READ blocks for and returns the next inbound frame.
//
// gorilla/websocket connections support only one concurrent writer; writer
// batches every WRITE through frameBatcher so concurrent callers never race
// on conn.WriteMessage directly, and bursts of small messages coalesce into
// fewer flush cycles.
type connDriver struct {
	conn   *websocket.Conn
	writer *frameBatcher
}

func (c *connDriver) Name() string          { return Name + ".conn" }
func (c *connDriver) Init(*file.File) error { return nil }
func (c *connDriver) Deinit(*file.File) {
	_ = c.writer.close()
	_ = c.conn.Close()
}

func (c *connDriver) Categories() []req.Category {
	return []req.Category{req.CategoryDiscreteStream}
}
func (c *connDriver) ABIVersion() int { return 1 }

// flushWrites is the frameBatcher's flush callback: it sends every queued
// frame in submission order on the one connection each batch owns.
func (c *connDriver) flushWrites(_ context.Context, jobs [][]byte) error {
	for _, buf := range jobs {
		if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
			return err
		}
	}
	return nil
}

func (c *connDriver) Handle(r *req.Request) bool {
	if r.Category != req.CategoryDiscreteStream {
		r.Result = req.ResultInvalid
		return false
	}
	switch r.Stream.Op {
	case req.StreamWrite:
		result, err := c.writer.submit(context.Background(), r.Stream.Buf)
		if err == nil {
			err = result.wait(context.Background())
		}
		if err != nil {
			r.Result = req.ResultAborted
			return false
		}
		r.Stream.Consumed = int64(len(r.Stream.Buf))
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	case req.StreamRead:
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			r.Result = req.ResultAborted
			return false
		}
		r.Stream.Buf = msg
		r.Stream.Tail = true
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

// Shutdown gracefully closes the listener, used by tests (Deinit does not
// call it; it closes the server directly); exported for callers that hold a
// context they want the shutdown bound to.
func Shutdown(ctx context.Context, f *file.File) error {
	st, ok := f.Param.(*state)
	if !ok {
		return fmt.Errorf("httpbridge: not an httpbridge file")
	}
	st.mu.Lock()
	srv := st.server
	st.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
