package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor periodically logs capability saturation
type HealthMonitor struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of the registered capabilities
type HealthStatus struct {
	Capabilities []CapabilityStatus `json:"capabilities"`
	Saturated    []string           `json:"saturated,omitempty"`
	InFlight     int                `json:"in_flight_calls"`
	Healthy      bool               `json:"healthy"`
	Timestamp    time.Time          `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(dispatcher *Dispatcher, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.interval <= 0 {
		return
	}
	h.running = true

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Debug("capability health check",
		zap.Int("capabilities", len(status.Capabilities)),
		zap.Int("in_flight_calls", status.InFlight),
		zap.Bool("healthy", status.Healthy))

	if !status.Healthy {
		h.logger.Warn("no capabilities registered")
	}

	for _, c := range status.Capabilities {
		h.logger.Debug("capability status",
			zap.String("capability", c.Name),
			zap.Int("in_flight", c.InFlight),
			zap.Int("max_concurrency", c.MaxConcurrency),
			zap.Float64("tokens_available", c.TokensAvailable))
	}

	for _, name := range status.Saturated {
		h.logger.Warn("capability at concurrency limit - consider raising it",
			zap.String("capability", name))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	capabilities := h.dispatcher.Capabilities()

	var saturated []string
	for _, c := range capabilities {
		if c.InFlight >= c.MaxConcurrency {
			saturated = append(saturated, c.Name)
		}
	}

	return &HealthStatus{
		Capabilities: capabilities,
		Saturated:    saturated,
		InFlight:     h.dispatcher.InFlightCalls(),
		Healthy:      len(capabilities) > 0,
		Timestamp:    time.Now(),
	}
}

// IsHealthy returns true if at least one capability is registered
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
