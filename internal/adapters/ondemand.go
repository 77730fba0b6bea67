package adapters

import (
	"context"
	"sync"

	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/ringbuffer"
)

// OnDemandRegistry tracks adapters started and stopped via explicit control
// for a specific device_id, rather than running for the whole daemon
// lifetime the way the default syslog/oslog adapters do. Same per-adapter
// contract (start/stop/status), keyed by device so a caller can target one
// device's logging without affecting others.
type OnDemandRegistry struct {
	log    *logging.Logger
	buffer *ringbuffer.RingBuffer

	mu       sync.Mutex
	adapters map[string]Adapter // key: deviceID+":"+kind
}

func NewOnDemandRegistry(log *logging.Logger, buffer *ringbuffer.RingBuffer) *OnDemandRegistry {
	return &OnDemandRegistry{
		log:      log,
		buffer:   buffer,
		adapters: make(map[string]Adapter),
	}
}

func key(deviceID, kind string) string { return deviceID + ":" + kind }

// StartSyslog starts a syslog adapter bound to deviceID, replacing any
// existing one for that device.
func (r *OnDemandRegistry) StartSyslog(deviceID, tool string, args []string) (Adapter, error) {
	return r.start(deviceID, "syslog", func() Adapter {
		return NewSyslogAdapter(r.log, r.buffer, deviceID, tool, args)
	})
}

// StartOSLog starts a unified log adapter bound to deviceID.
func (r *OnDemandRegistry) StartOSLog(deviceID, tool string, args []string) (Adapter, error) {
	return r.start(deviceID, "oslog", func() Adapter {
		return NewOSLogAdapter(r.log, r.buffer, deviceID, tool, args)
	})
}

func (r *OnDemandRegistry) start(deviceID, kind string, build func() Adapter) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(deviceID, kind)
	if existing, ok := r.adapters[k]; ok {
		_ = existing.Stop()
	}

	a := build()
	if err := a.Start(context.Background()); err != nil {
		delete(r.adapters, k)
		return nil, err
	}
	r.adapters[k] = a
	return a, nil
}

// Stop stops the adapter of kind bound to deviceID, if running.
func (r *OnDemandRegistry) Stop(deviceID, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(deviceID, kind)
	a, ok := r.adapters[k]
	if !ok {
		return nil
	}
	delete(r.adapters, k)
	return a.Stop()
}

// Status returns the status of every on-demand adapter currently tracked.
func (r *OnDemandRegistry) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]Status, 0, len(r.adapters))
	for _, a := range r.adapters {
		statuses = append(statuses, a.Status())
	}
	return statuses
}
