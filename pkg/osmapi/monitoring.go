package osmapi

import (
	"sync"
	"time"
)

// MonitoringHooks defines hooks for monitoring HTTP requests
type MonitoringHooks struct {
	// OnRequest is called before making an HTTP request
	OnRequest func(service, operation string)

	// OnResponse is called after receiving an HTTP response
	OnResponse func(service, operation string, duration time.Duration, success bool)

	// OnRateLimit is called when a request had to wait for the limiter
	OnRateLimit func(service string, waitTime time.Duration)

	// OnCache is called on every map cache lookup
	OnCache func(cacheType string, hit bool, size int)

	// OnError is called when an error occurs
	OnError func(service, errorType string)
}

var (
	globalHooks *MonitoringHooks
	hooksMutex  sync.RWMutex
)

// SetMonitoringHooks sets global monitoring hooks
func SetMonitoringHooks(hooks *MonitoringHooks) {
	hooksMutex.Lock()
	defer hooksMutex.Unlock()
	globalHooks = hooks
}

func getMonitoringHooks() *MonitoringHooks {
	hooksMutex.RLock()
	defer hooksMutex.RUnlock()
	if globalHooks == nil {
		return &MonitoringHooks{}
	}
	return globalHooks
}

func (h *MonitoringHooks) request(service, operation string) {
	if h.OnRequest != nil {
		h.OnRequest(service, operation)
	}
}

func (h *MonitoringHooks) response(service, operation string, d time.Duration, success bool) {
	if h.OnResponse != nil {
		h.OnResponse(service, operation, d, success)
	}
}

func (h *MonitoringHooks) rateLimit(service string, d time.Duration) {
	if h.OnRateLimit != nil {
		h.OnRateLimit(service, d)
	}
}

func (h *MonitoringHooks) cache(cacheType string, hit bool, size int) {
	if h.OnCache != nil {
		h.OnCache(cacheType, hit, size)
	}
}

func (h *MonitoringHooks) err(service, errorType string) {
	if h.OnError != nil {
		h.OnError(service, errorType)
	}
}
