package bulkfetch

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/ontime-cli/internal/fetcher"
)

// fakeOrigin serves archives by remote name and counts requests.
type fakeOrigin struct {
	mu       sync.Mutex
	status   map[string]int
	body     map[string][]byte
	requests map[string]int
	handler  map[string]http.HandlerFunc
	srv      *httptest.Server
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{
		status:   make(map[string]int),
		body:     make(map[string][]byte),
		requests: make(map[string]int),
		handler:  make(map[string]http.HandlerFunc),
	}
	o.srv = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrigin) serve(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)

	o.mu.Lock()
	o.requests[name]++
	h := o.handler[name]
	status, ok := o.status[name]
	body := o.body[name]
	o.mu.Unlock()

	if h != nil {
		h(w, r)
		return
	}
	if !ok {
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
	if status == http.StatusOK {
		w.Write(body) //nolint:errcheck
	}
}

// serveArchive makes p available with a deterministic body.
func (o *fakeOrigin) serveArchive(p Period) []byte {
	body := bytes.Repeat([]byte(p.String()+"|"), 2048)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[RemoteName(p)] = http.StatusOK
	o.body[RemoteName(p)] = body
	delete(o.handler, RemoteName(p))
	return body
}

func (o *fakeOrigin) setStatus(p Period, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[RemoteName(p)] = status
}

func (o *fakeOrigin) setHandler(p Period, h http.HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler[RemoteName(p)] = h
}

func (o *fakeOrigin) requestsFor(p Period) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests[RemoteName(p)]
}

func (o *fakeOrigin) totalRequests() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.requests {
		n += c
	}
	return n
}

func (o *fakeOrigin) baseURL() string {
	return o.srv.URL + "/PREZIP/"
}

// newTestEngine builds an engine against the fake origin with pacing disabled.
func newTestEngine(o *fakeOrigin, mutate func(*Options), observers ...Observer) *Engine {
	opts := Options{
		BaseURL:        o.baseURL(),
		RequestTimeout: 5 * time.Second,
		Concurrency:    4,
		ChunkSize:      512,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: "test-agent", Timeout: 10 * time.Second})
	return NewEngine(f, opts, observers...)
}

func p(year int, month time.Month) Period {
	return NewPeriod(year, month)
}

// listFiles returns the names of the regular files directly under dir.
func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names
}
