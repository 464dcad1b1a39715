package observability

import (
	"database/sql"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"aepblueprint/internal/auth"
	"aepblueprint/internal/platform/logger"

	"github.com/go-chi/chi/v5/middleware"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

// Gauge reports a point-in-time value at scrape time.
type Gauge func() float64

type Collector struct {
	db  *sql.DB
	log *logger.Logger

	mu           sync.RWMutex
	requestStats map[key]stat
	gauges       map[string]Gauge
	startedAt    time.Time
}

func NewCollector(db *sql.DB, log *logger.Logger) *Collector {
	if log == nil {
		log = logger.Nop()
	}
	return &Collector{
		db:           db,
		log:          log,
		requestStats: make(map[key]stat),
		gauges:       make(map[string]Gauge),
		startedAt:    time.Now(),
	}
}

// AddGauge registers a metric exposed as aep_<name>.
func (c *Collector) AddGauge(name string, g Gauge) {
	c.mu.Lock()
	c.gauges[name] = g
	c.mu.Unlock()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (SSE) working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		// The auth middleware runs further down the chain, so the user is
		// published back through this holder.
		holder := &userHolder{}
		next.ServeHTTP(rec, r.WithContext(withUserHolder(r.Context(), holder)))

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		c.log.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"user_id", holder.userID(),
			"method", r.Method,
			"path", path,
			"status", rec.status,
			"latency_ms", latencyMS,
			"remote_ip", strings.TrimSpace(r.RemoteAddr),
		)
	})
}

// TrackUser records the authenticated user for the request log line. Mount it
// after the auth middleware.
func TrackUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Context().Value(userHolderKey).(*userHolder); ok {
			if u, ok := auth.CurrentUser(r.Context()); ok {
				h.set(u.ID)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	gaugeNames := make([]string, 0, len(c.gauges))
	gauges := make(map[string]Gauge, len(c.gauges))
	for name, g := range c.gauges {
		gaugeNames = append(gaugeNames, name)
		gauges[name] = g
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})
	sort.Strings(gaugeNames)

	var sb strings.Builder
	sb.WriteString("# aep observability metrics\n")
	sb.WriteString("# TYPE aep_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("aep_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE aep_http_requests_total counter\n")
	sb.WriteString("# TYPE aep_http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE aep_http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("aep_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("aep_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		sb.WriteString(fmt.Sprintf("aep_http_request_latency_ms_avg{%s} %.3f\n", labels, avg))
	}

	for _, name := range gaugeNames {
		sb.WriteString(fmt.Sprintf("# TYPE aep_%s gauge\n", name))
		sb.WriteString(fmt.Sprintf("aep_%s %s\n", name, strconv.FormatFloat(gauges[name](), 'f', -1, 64)))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE aep_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("aep_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE aep_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("aep_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE aep_db_idle_connections gauge\n")
		sb.WriteString(fmt.Sprintf("aep_db_idle_connections %d\n", dbs.Idle))
		sb.WriteString("# TYPE aep_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("aep_db_wait_count %d\n", dbs.WaitCount))
		sb.WriteString("# TYPE aep_db_wait_duration_ms counter\n")
		sb.WriteString(fmt.Sprintf("aep_db_wait_duration_ms %.3f\n", float64(dbs.WaitDuration.Microseconds())/1000.0))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil || uuidPattern.MatchString(p) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
