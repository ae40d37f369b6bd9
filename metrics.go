package cachegate

import (
	"sync"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/cachegate/cachegate/store"
)

// Metrics is the go-metrics-backed store.Metrics implementation the admin
// surface's /metrics endpoint reports. Command counters are registered
// lazily since the command set is fixed but this keeps the registry free of
// stale/zero entries for commands a given deployment never sees.
type Metrics struct {
	registry gometrics.Registry

	mu       sync.Mutex
	commands map[string]gometrics.Counter

	evictions   gometrics.Counter
	expirations gometrics.Counter
	bytes       gometrics.Gauge
	connections gometrics.Counter
}

func NewMetrics() *Metrics {
	r := gometrics.NewRegistry()
	return &Metrics{
		registry:    r,
		commands:    make(map[string]gometrics.Counter),
		evictions:   gometrics.NewRegisteredCounter("cachegate.evictions", r),
		expirations: gometrics.NewRegisteredCounter("cachegate.expirations", r),
		bytes:       gometrics.NewRegisteredGauge("cachegate.bytes", r),
		connections: gometrics.NewRegisteredCounter("cachegate.connections", r),
	}
}

var _ store.Metrics = (*Metrics)(nil)

func (m *Metrics) IncCommand(name string) {
	m.mu.Lock()
	c, ok := m.commands[name]
	if !ok {
		c = gometrics.NewRegisteredCounter("cachegate.command."+name, m.registry)
		m.commands[name] = c
	}
	m.mu.Unlock()
	c.Inc(1)
}

func (m *Metrics) IncEviction(n int)   { m.evictions.Inc(int64(n)) }
func (m *Metrics) IncExpiration(n int) { m.expirations.Inc(int64(n)) }
func (m *Metrics) SetBytes(n int64)    { m.bytes.Update(n) }

func (m *Metrics) ConnOpened() { m.connections.Inc(1) }
func (m *Metrics) ConnClosed() { m.connections.Dec(1) }

func (m *Metrics) Registry() gometrics.Registry { return m.registry }
