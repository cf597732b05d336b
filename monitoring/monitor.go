package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/pdes/monitoring/web"
	"github.com/sarchlab/pdes/partition"
	"github.com/sarchlab/pdes/sim"
)

// Monitor turns a simulation into a server and allows external monitoring
// and controlling of the partitions.
type Monitor struct {
	schedulers     []*partition.Scheduler
	portNumber     int
	openBrowser    bool
	streamInterval time.Duration
	registry       *prometheus.Registry
	metrics        *Metrics
	log            *logrus.Entry

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	registry := prometheus.NewRegistry()

	metrics, err := NewMetrics(registry)
	dieOnErr(err)

	return &Monitor{
		streamInterval: 500 * time.Millisecond,
		registry:       registry,
		metrics:        metrics,
		log:            logrus.WithField("component", "monitor"),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.Warnf(
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser sets whether the dashboard is opened in a browser when the
// server starts.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithStreamInterval sets how often snapshots are pushed to stream clients.
func (m *Monitor) WithStreamInterval(d time.Duration) *Monitor {
	if d > 0 {
		m.streamInterval = d
	}

	return m
}

// RegisterScheduler registers the scheduler of a partition to be monitored.
// Schedulers must be registered before they run.
func (m *Monitor) RegisterScheduler(s *partition.Scheduler) {
	m.schedulers = append(m.schedulers, s)
	s.AcceptHook(m.metrics.Hook(s.ID()))
}

// Metrics returns the Prometheus metrics fed by the registered schedulers.
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// TrackSimulatedTime creates a progress bar that follows the slowest
// partition clock up to the end time.
func (m *Monitor) TrackSimulatedTime(end sim.VTime) *ProgressBar {
	bar := m.CreateProgressBar("Simulated time", uint64(end))
	bar.sample = func() uint64 {
		return uint64(m.minNow())
	}

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of all the monitoring endpoints.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	fServer := http.FileServer(web.GetAssets())
	r.HandleFunc("/api/pause", m.pause)
	r.HandleFunc("/api/continue", m.continueRun)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/end", m.end)
	r.HandleFunc("/api/list_partitions", m.listPartitions)
	r.HandleFunc("/api/partitions", m.listSnapshots)
	r.HandleFunc("/api/partition/{id}", m.partitionDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/api/stream", m.stream)
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.PathPrefix("/").Handler(fServer)

	return r
}

// StartServer starts the monitor as a web server. It returns the URL of
// the dashboard.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.log.Infof("Monitoring simulation with %s", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			m.log.WithError(err).Error("monitoring server stopped")
		}
	}()

	if m.openBrowser {
		err := browser.OpenURL(url)
		if err != nil {
			m.log.WithError(err).Warn("cannot open the dashboard")
		}
	}

	return url
}

// StopServer shuts the web server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

// A PartitionSnapshot is the state of one partition at the moment it is
// sampled.
type PartitionSnapshot struct {
	ID     sim.PartitionID   `json:"id"`
	State  string            `json:"state"`
	Paused bool              `json:"paused"`
	Clock  sim.ClockSnapshot `json:"clock"`
	Stats  partition.Stats   `json:"stats"`
	Inbox  int               `json:"inbox"`
}

func snapshotOf(s *partition.Scheduler) PartitionSnapshot {
	return PartitionSnapshot{
		ID:     s.ID(),
		State:  s.State().String(),
		Paused: s.Paused(),
		Clock:  s.Partition().Clock.Snapshot(),
		Stats:  s.Stats(),
		Inbox:  s.Inbox().Len(),
	}
}

// Snapshot samples all the registered partitions.
func (m *Monitor) Snapshot() []PartitionSnapshot {
	snapshots := make([]PartitionSnapshot, 0, len(m.schedulers))
	for _, s := range m.schedulers {
		snapshots = append(snapshots, snapshotOf(s))
	}

	return snapshots
}

func (m *Monitor) minNow() sim.VTime {
	if len(m.schedulers) == 0 {
		return 0
	}

	now := sim.MaxTime
	for _, s := range m.schedulers {
		now = min(now, s.CurrentTime())
	}

	return now
}

func (m *Monitor) pauseAll() {
	for _, s := range m.schedulers {
		s.Pause()
	}
}

func (m *Monitor) continueAll() {
	for _, s := range m.schedulers {
		s.Continue()
	}
}

// requestEnd asks partition 0 to end the simulation, which broadcasts the
// end time to the other partitions. A negative time means as soon as
// possible.
func (m *Monitor) requestEnd(at sim.VTime) (sim.VTime, bool) {
	if len(m.schedulers) == 0 {
		return 0, false
	}

	if at < 0 {
		at = m.minNow() + 1
	}

	m.schedulers[0].RequestEndSimulation(at)

	return at, true
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.pauseAll()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueRun(w http.ResponseWriter, _ *http.Request) {
	m.continueAll()
	_, err := w.Write(nil)
	dieOnErr(err)
}

type nowRsp struct {
	Now        sim.VTime   `json:"now"`
	Partitions []sim.VTime `json:"partitions"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	rsp := nowRsp{Now: m.minNow()}
	for _, s := range m.schedulers {
		rsp.Partitions = append(rsp.Partitions, s.CurrentTime())
	}

	writeJSON(w, rsp)
}

type endRsp struct {
	At sim.VTime `json:"at"`
}

func (m *Monitor) end(w http.ResponseWriter, r *http.Request) {
	at := sim.VTime(-1)

	if atStr := r.URL.Query().Get("at"); atStr != "" {
		n, err := strconv.ParseInt(atStr, 10, 64)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: invalid end time %q", atStr)
			return
		}
		at = sim.VTime(n)
	}

	at, ok := m.requestEnd(at)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "Error: no partition registered")
		return
	}

	writeJSON(w, endRsp{At: at})
}

func (m *Monitor) listPartitions(w http.ResponseWriter, _ *http.Request) {
	ids := make([]sim.PartitionID, 0, len(m.schedulers))
	for _, s := range m.schedulers {
		ids = append(ids, s.ID())
	}

	writeJSON(w, ids)
}

func (m *Monitor) listSnapshots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.Snapshot())
}

func (m *Monitor) partitionDetails(w http.ResponseWriter, r *http.Request) {
	s := m.findSchedulerOr404(w, mux.Vars(r)["id"])
	if s == nil {
		return
	}

	snapshot := snapshotOf(s)

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findSchedulerOr404(
	w http.ResponseWriter,
	idStr string,
) *partition.Scheduler {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: invalid partition %q", idStr)
		return nil
	}

	for _, s := range m.schedulers {
		if s.ID() == sim.PartitionID(id) {
			return s
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err = w.Write([]byte("Partition not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := append([]*ProgressBar(nil), m.progressBars...)
	m.progressBarsLock.Unlock()

	for _, b := range bars {
		b.refresh()
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
