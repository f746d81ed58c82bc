// Package monitoring serves a live HTTP view of a running timing session and
// lets external tools pause and resume it.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"github.com/rs/xid"
	"github.com/sarchlab/coretiming/hooking"
	"github.com/sarchlab/coretiming/monitoring/web"
	"github.com/sarchlab/coretiming/timing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"
)

// Timeline is the part of a timing session that the monitor observes and
// controls.
type Timeline interface {
	SyncPause(isPaused bool)
	State() timing.State
	GetGlobalTimeNs() timing.VTimeInNs
	PendingEvents() []timing.PendingEvent
	Registry() *timing.Registry
}

// Monitor can turn a timing session into a server and allows external
// monitoring and controlling of the session.
type Monitor struct {
	timeline   Timeline
	portNumber int
	log        *zap.Logger

	counter  *hooking.EventCountTracer
	lateness *hooking.LatenessTracer

	listener net.Listener

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		log:      zap.NewNop(),
		counter:  hooking.NewEventCountTracer(nil),
		lateness: hooking.NewLatenessTracer(nil),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.Warn("port number not allowed for the monitor, using a random port",
			zap.Int("port", portNumber))

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(l *zap.Logger) *Monitor {
	m.log = l.Named("monitor")
	return m
}

// RegisterTimeline registers the session to monitor. When the session accepts
// hooks, the monitor attaches its own firing counters.
func (m *Monitor) RegisterTimeline(t Timeline) {
	m.timeline = t

	if h, ok := t.(hooking.Hookable); ok {
		h.AcceptHook(m.counter)
		h.AcceptHook(m.lateness)
	}
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		id:      xid.New().String(),
		name:    name,
		started: time.Now(),
		total:   total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

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

// Router returns the HTTP handler of the monitor.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pause)
	r.HandleFunc("/api/continue", m.resume)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/pending", m.listPending)
	r.HandleFunc("/api/events", m.listEvents)
	r.HandleFunc("/api/event/{name}", m.eventDetails)
	r.HandleFunc("/api/lateness", m.reportLateness)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.Assets()))

	return r
}

// Listen opens the server socket and returns the URL of the dashboard.
func (m *Monitor) Listen() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("monitor: listen on %s: %w", actualPort, err)
	}

	m.listener = listener

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.log.Info("monitoring timing session", zap.String("url", url))

	return url, nil
}

// Serve serves requests until ctx is cancelled. Listen must be called first.
func (m *Monitor) Serve(ctx context.Context) error {
	if m.listener == nil {
		return errors.New("monitor: Serve called before Listen")
	}

	srv := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(m.listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return err
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.timeline.SyncPause(true)
	m.log.Info("paused by monitor")
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) resume(w http.ResponseWriter, _ *http.Request) {
	m.timeline.SyncPause(false)
	m.log.Info("resumed by monitor")
	w.WriteHeader(http.StatusOK)
}

type nowRsp struct {
	Now   int64  `json:"now"`
	State string `json:"state"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, nowRsp{
		Now:   int64(m.timeline.GetGlobalTimeNs()),
		State: m.timeline.State().String(),
	})
}

func (m *Monitor) listPending(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.timeline.PendingEvents())
}

type eventRsp struct {
	Name    string `json:"name"`
	Fired   uint64 `json:"fired"`
	Pending int    `json:"pending"`
}

func (m *Monitor) listEvents(w http.ResponseWriter, _ *http.Request) {
	pending := map[string]int{}
	for _, p := range m.timeline.PendingEvents() {
		pending[p.Name]++
	}

	events := m.timeline.Registry().List()
	rsp := make([]eventRsp, 0, len(events))

	for _, et := range events {
		rsp = append(rsp, eventRsp{
			Name:    et.Name(),
			Fired:   m.counter.CountOf(et.Name()),
			Pending: pending[et.Name()],
		})
	}

	m.writeJSON(w, rsp)
}

type eventDetail struct {
	Name           string
	SequenceNumber uint64
	Fired          uint64
	Pending        []timing.PendingEvent
}

func (m *Monitor) eventDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	et, ok := m.timeline.Registry().Lookup(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Event not found"))

		return
	}

	detail := &eventDetail{
		Name:           et.Name(),
		SequenceNumber: et.SequenceNumber(),
		Fired:          m.counter.CountOf(name),
	}

	for _, p := range m.timeline.PendingEvents() {
		if p.Name == name {
			detail.Pending = append(detail.Pending, p)
		}
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(detail)
	serializer.SetMaxDepth(2)

	err := serializer.Serialize(w)
	if err != nil {
		m.log.Error("failed to serialize event", zap.Error(err))
	}
}

type latenessRsp struct {
	Count   uint64        `json:"count"`
	Average time.Duration `json:"average"`
	Worst   time.Duration `json:"worst"`
}

func (m *Monitor) reportLateness(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, latenessRsp{
		Count:   m.lateness.TotalCount(),
		Average: m.lateness.AverageLateness(),
		Worst:   m.lateness.WorstLateness(),
	})
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	process, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.fail(w, err)
		return
	}

	cpuPercent, err := process.CPUPercent()
	if err != nil {
		m.fail(w, err)
		return
	}

	memorySize, err := process.MemoryInfo()
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		m.fail(w, err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(data)
	if err != nil {
		m.log.Warn("failed to write response", zap.Error(err))
	}
}

func (m *Monitor) fail(w http.ResponseWriter, err error) {
	m.log.Error("monitor request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
