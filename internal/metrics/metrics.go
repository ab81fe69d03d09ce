// Package metrics exposes Prometheus counters/gauges for bus link activity:
// frame throughput, queue depths, line-state transitions, collisions and
// backoffs, and decode rejects, plus the bridge's client fan-out stats.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/grantwilk/busnode/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges
var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_sent_total",
		Help: "Total frames successfully enqueued for transmission.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_frames_received_total",
		Help: "Total frames successfully decoded and queued for the local node.",
	})
	LineStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_line_state_transitions_total",
		Help: "Total line state machine transitions, by resulting state.",
	}, []string{"state"})
	Collisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_collisions_total",
		Help: "Total collisions detected while transmitting.",
	})
	BackoffsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_backoffs_started_total",
		Help: "Total randomized backoff periods armed after a collision.",
	})
	ManchesterRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_manchester_rejects_total",
		Help: "Total invalid Manchester symbol pairs encountered while decoding.",
	})
	CRCRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_crc_rejects_total",
		Help: "Total frames dropped due to CRC-8 mismatch.",
	})
	WrongVersionRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_wrong_version_rejects_total",
		Help: "Total frames dropped due to an unsupported header version.",
	})
	TXQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_tx_queue_depth",
		Help: "Number of frames currently queued for transmission.",
	})
	RXQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_rx_queue_depth",
		Help: "Number of fully decoded frames waiting to be received.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_tcp_rx_frames_total",
		Help: "Total frames received from TCP bridge clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_tcp_tx_frames_total",
		Help: "Total frames sent to TCP bridge clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total frames dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected bridge clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued frames among clients since last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued frames per client in last sample.",
	})
	BridgeTXBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_tx_backlog",
		Help: "Frames injected by bridge clients queued for the backend link but not yet sent.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead   = "tcp_read"
	ErrTCPWrite  = "tcp_write"
	ErrHandshake = "handshake"
	ErrLineIO    = "line_io"
	ErrTxQueue   = "tx_queue"
	ErrListen    = "listen"
)

// line state label values, stable for Grafana dashboards built against them.
const (
	StateIdle      = "idle"
	StateBusy      = "busy"
	StateCollision = "collision"
)

// StartHTTP serves Prometheus metrics at /metrics and liveness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging without scraping.
var (
	localFramesSent  uint64
	localFramesRecv  uint64
	localCollisions  uint64
	localBackoffs    uint64
	localManchester  uint64
	localCRCRejects  uint64
	localWrongVer    uint64
	localHubDrop     uint64
	localHubKick     uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesSent        uint64
	FramesReceived    uint64
	Collisions        uint64
	Backoffs          uint64
	ManchesterRejects uint64
	CRCRejects        uint64
	WrongVersion      uint64
	HubDrops          uint64
	HubKicks          uint64
	Errors            uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesSent:        atomic.LoadUint64(&localFramesSent),
		FramesReceived:    atomic.LoadUint64(&localFramesRecv),
		Collisions:        atomic.LoadUint64(&localCollisions),
		Backoffs:          atomic.LoadUint64(&localBackoffs),
		ManchesterRejects: atomic.LoadUint64(&localManchester),
		CRCRejects:        atomic.LoadUint64(&localCRCRejects),
		WrongVersion:      atomic.LoadUint64(&localWrongVer),
		HubDrops:          atomic.LoadUint64(&localHubDrop),
		HubKicks:          atomic.LoadUint64(&localHubKick),
		Errors:            atomic.LoadUint64(&localErrors),
	}
}

func IncFramesSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localFramesSent, 1)
}

func IncFramesReceived() {
	FramesReceived.Inc()
	atomic.AddUint64(&localFramesRecv, 1)
}

// SetLineState records a line state machine transition.
func SetLineState(state string) {
	LineStateTransitions.WithLabelValues(state).Inc()
}

func IncCollision() {
	Collisions.Inc()
	atomic.AddUint64(&localCollisions, 1)
}

func IncBackoff() {
	BackoffsStarted.Inc()
	atomic.AddUint64(&localBackoffs, 1)
}

func IncManchesterReject() {
	ManchesterRejects.Inc()
	atomic.AddUint64(&localManchester, 1)
}

func IncCRCReject() {
	CRCRejects.Inc()
	atomic.AddUint64(&localCRCRejects, 1)
}

func IncWrongVersion() {
	WrongVersionRejects.Inc()
	atomic.AddUint64(&localWrongVer, 1)
}

func SetTXQueueDepth(n int)    { TXQueueDepth.Set(float64(n)) }
func SetRXQueueDepth(n int)    { RXQueueDepth.Set(float64(n)) }
func SetBridgeTXBacklog(n int) { BridgeTXBacklog.Set(float64(n)) }

func IncTCPRx() { TCPRxFrames.Inc() }
func AddTCPTx(n int) { TCPTxFrames.Add(float64(n)) }

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubClients(n int)       { HubActiveClients.Set(float64(n)) }
func SetBroadcastFanout(n int)  { HubBroadcastFanout.Set(float64(n)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetQueueDepth records a snapshot of max and avg hub client queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrLineIO, ErrTxQueue, ErrListen} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, s := range []string{StateIdle, StateBusy, StateCollision} {
		LineStateTransitions.WithLabelValues(s).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
