package cachegate

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/gorilla/mux"

	"github.com/cachegate/cachegate/eventbus"
	"github.com/cachegate/cachegate/eviction"
	"github.com/cachegate/cachegate/expiry"
	"github.com/cachegate/cachegate/log"
	"github.com/cachegate/cachegate/store"
)

// Server owns one listener accepting client connections, the request
// pipeline behind it, the admin HTTP surface, and the two background
// engines: Addr plus an init step plus a retry-with-backoff Serve loop.
type Server struct {
	Addr      string
	AdminAddr string
	Log       log.Logger

	Store   *store.Store
	Bus     *eventbus.EventBus
	Expiry  *expiry.Engine
	Evict   *eviction.Engine
	Metrics *Metrics

	lazyExpiry  bool
	requests    *RequestQueue
	responses   *ResponseQueue
	connCounter int64
}

// NewServer wires Store, EventBus, the two engines, and the request
// pipeline from cfg. Engines subscribe their hook queues before any traffic
// is served, and
// Store's eviction signal channel is handed to the eviction engine at
// construction.
func NewServer(cfg Config, l log.Logger, m *Metrics) *Server {
	requests := NewRequestQueue()
	responses := NewResponseQueue()
	bus := eventbus.New(responses)

	st := store.New(store.Config{
		CeilingBytes:      cfg.CeilingBytes(),
		EvictionThreshold: cfg.EvictionThreshold,
		Log:               l,
		Metrics:           m,
	})

	mode := expiry.Strict
	if !cfg.StrictExpiry {
		mode = expiry.Lazy
	}
	expiryEngine := expiry.New(st, bus, l, m, mode, cfg.SweepIntervalDuration())
	evictEngine := eviction.New(st, bus, l, m, cfg.EvictionFactor, st.EvictionSignal())

	st.SubscribeHooks(expiryEngine.Hooks())
	st.SubscribeHooks(evictEngine.Hooks())

	return &Server{
		Addr:       net.JoinHostPort("", strconv.Itoa(cfg.ClientPort)),
		AdminAddr:  net.JoinHostPort("", strconv.Itoa(cfg.AdminPort)),
		Log:        l,
		Store:      st,
		Bus:        bus,
		Expiry:     expiryEngine,
		Evict:      evictEngine,
		Metrics:    m,
		lazyExpiry: !cfg.StrictExpiry,
		requests:   requests,
		responses:  responses,
	}
}

// applyConfig hot-applies the mutable knobs a config reload carries.
// ClientPort, CacheSizeInMBs, and StrictExpiry are not touched here: they
// are fixed for the process's life. LogLevel is only reported; the loggers
// already handed to the components keep their level.
func (s *Server) applyConfig(cfg Config) {
	s.Store.Accountant.SetEvictionThreshold(cfg.EvictionThreshold)
	s.Evict.SetFraction(cfg.EvictionFactor)
	s.Expiry.SetInterval(cfg.SweepIntervalDuration())
	if lvl, err := log.LevelFromString(cfg.LogLevel); err == nil {
		s.Log.Infof("config log level %s noted; running loggers keep their level until restart", lvl)
	}
}

// Run starts the two engines, the dispatcher, the writer, the client
// listener, and the admin HTTP server, blocking until ctx is cancelled or
// the client listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.Expiry.Run(ctx)
	go s.Evict.Run(ctx)

	dispatcher := NewDispatcher(s.requests, s.responses, s.Store, s.Bus, s.Log, s.lazyExpiry)
	writer := NewWriter(s.responses, s.Bus, s.Log)
	go dispatcher.Run(ctx)
	go writer.Run(ctx)

	admin := s.newAdminServer()
	go func() {
		<-ctx.Done()
		admin.Close()
	}()
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Log.Errorf("admin server: %v", err)
		}
	}()

	return s.ListenAndServe(ctx)
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx is cancelled or a permanent accept
// error occurs, retrying transient errors with the same backoff shape the
// teacher's Server.Serve uses.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); !(ok && ne.Temporary()) {
				return err
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			s.Log.Errorf("accept error: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		id := atomic.AddInt64(&s.connCounter, 1)
		cn := newConn(id, c, s.Log.WithFields(log.Fields{"conn": id}))
		if s.Metrics != nil {
			s.Metrics.ConnOpened()
		}
		go func() {
			defer func() {
				if s.Metrics != nil {
					s.Metrics.ConnClosed()
				}
				s.Bus.Purge(cn)
			}()
			cn.serve(s.requests, s.responses)
		}()
	}
}

func (s *Server) newAdminServer() *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return &http.Server{Addr: s.AdminAddr, Handler: r}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.Store.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"items":        stats.Items,
		"currentBytes": stats.CurrentBytes,
		"ceilingBytes": stats.CeilingBytes,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snapshot := make(map[string]interface{})
	s.Metrics.Registry().Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case gometrics.Counter:
			snapshot[name] = metric.Count()
		case gometrics.Gauge:
			snapshot[name] = metric.Value()
		}
	})
	json.NewEncoder(w).Encode(snapshot)
}
