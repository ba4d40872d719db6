// Package membrane gates which data categories may move between the
// protected and learning zones, and keeps a self-regulating health signal
// for the governance system. The channel-type names (sodium, potassium,
// calcium, data, energy) are kept from the original wire format; underneath
// this is an ordinary rule-based router plus a periodic regulator.
package membrane

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pristine-labs/coreguard/internal/types"
)

// DestinationNucleus is the protected zone's innermost destination. Only
// the high-security (sodium) channel may deliver there.
const DestinationNucleus = "nucleus"

// Decision is the outcome of a permeability check
type Decision struct {
	Allowed       bool
	Channel       *types.MembraneChannel
	Reason        string
	Modifications map[string]interface{}
}

// Config holds controller configuration
type Config struct {
	// Channels overrides the default channel table
	Channels []*types.MembraneChannel
	// TickInterval is how often Run recomputes homeostasis. Default: 1m.
	TickInterval time.Duration
	// TransportRate is the sustained throughput budget (units/second) for
	// ActiveTransport. Default: 10.
	TransportRate float64
	// TransportBurst is the instantaneous budget ceiling. Default: 100.
	TransportBurst int
}

// Controller routes data through typed channels and regulates their
// conductance. Each controller owns its channel state; concurrent
// governance sessions use separate instances.
type Controller struct {
	mu       sync.Mutex
	channels []*types.MembraneChannel
	metrics  types.HomeostasisMetrics
	budget   *rate.Limiter
	interval time.Duration
	rng      *rand.Rand
	now      func() time.Time

	// transport activity since the last regulation tick, feeding the
	// load-heat and pressure metrics
	activity int
}

// NewController creates a controller with the default channel table unless
// overridden.
func NewController(cfg *Config) *Controller {
	if cfg == nil {
		cfg = &Config{}
	}
	channels := cfg.Channels
	if channels == nil {
		channels = defaultChannels()
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	transportRate := cfg.TransportRate
	if transportRate <= 0 {
		transportRate = 10
	}
	burst := cfg.TransportBurst
	if burst <= 0 {
		burst = 100
	}

	c := &Controller{
		channels: channels,
		budget:   rate.NewLimiter(rate.Limit(transportRate), burst),
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      func() time.Time { return time.Now().UTC() },
	}
	c.metrics = c.computeMetricsLocked()
	return c
}

// defaultChannels returns one channel per type with its allow-list
func defaultChannels() []*types.MembraneChannel {
	return []*types.MembraneChannel{
		{
			ID:     "ch-sodium",
			Type:   types.ChannelSodium,
			IsOpen: true,
			Selectivity: []types.DataCategory{
				types.DataSecurityCritical,
				types.DataCoreProtection,
			},
			Conductance: 0.9,
			GateVoltage: 0.7,
		},
		{
			ID:     "ch-potassium",
			Type:   types.ChannelPotassium,
			IsOpen: true,
			Selectivity: []types.DataCategory{
				types.DataLearningStrategy,
				types.DataConsequenceRecord,
			},
			Conductance: 0.7,
		},
		{
			ID:     "ch-calcium",
			Type:   types.ChannelCalcium,
			IsOpen: false, // emergency channel opens under load
			Selectivity: []types.DataCategory{
				types.DataSystemError,
			},
			Conductance: 0.5,
		},
		{
			ID:     "ch-data",
			Type:   types.ChannelData,
			IsOpen: true,
			Selectivity: []types.DataCategory{
				types.DataTransformation,
				types.DataConsequenceRecord,
			},
			Conductance: 0.6,
		},
		{
			ID:     "ch-energy",
			Type:   types.ChannelEnergy,
			IsOpen: true,
			Selectivity: []types.DataCategory{
				types.DataPerformanceMetric,
			},
			Conductance: 0.8,
		},
	}
}

// preferredChannelType maps a data category to the channel type that
// carries it.
func preferredChannelType(category types.DataCategory) (types.ChannelType, bool) {
	switch category {
	case types.DataSecurityCritical, types.DataCoreProtection:
		return types.ChannelSodium, true
	case types.DataLearningStrategy:
		return types.ChannelPotassium, true
	case types.DataSystemError:
		return types.ChannelCalcium, true
	case types.DataPerformanceMetric:
		return types.ChannelEnergy, true
	case types.DataTransformation, types.DataConsequenceRecord:
		return types.ChannelData, true
	default:
		return "", false
	}
}

// CategorizeData infers a payload's category from its shape
func CategorizeData(data map[string]interface{}) types.DataCategory {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := data[k]; !ok {
				return false
			}
		}
		return true
	}

	switch {
	case has("securityLevel"), has("secret"), has("credentials"):
		return types.DataSecurityCritical
	case has("violations"), has("protectedPaths"):
		return types.DataCoreProtection
	case has("transformation", "guardrails"):
		return types.DataConsequenceRecord
	case has("pattern", "confidence"):
		return types.DataLearningStrategy
	case has("patchId"), has("filesTouched"):
		return types.DataTransformation
	case has("error"), has("stackTrace"):
		return types.DataSystemError
	case has("durationMs"), has("metrics"):
		return types.DataPerformanceMetric
	default:
		return types.DataUnknown
	}
}

// CheckPermeability decides whether data may move to the destination. The
// data's category is inferred from its shape; the category's channel type
// must be open, selective for the category, and appropriate for the
// destination. Destination "nucleus" admits only the sodium channel.
// Allowed data picks up channel-specific provenance modifications.
func (c *Controller) CheckPermeability(data map[string]interface{}, destination string) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	category := CategorizeData(data)
	if category == types.DataUnknown {
		return Decision{Allowed: false, Reason: "unrecognized data category"}
	}

	wantType, ok := preferredChannelType(category)
	if !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("no channel type carries %s data", category)}
	}

	if destination == DestinationNucleus && wantType != types.ChannelSodium {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("destination %s requires the high-security channel; %s data routes through %s", DestinationNucleus, category, wantType),
		}
	}

	channel := c.channelByTypeLocked(wantType)
	if channel == nil {
		return Decision{Allowed: false, Reason: fmt.Sprintf("no %s channel configured", wantType)}
	}
	if !channel.IsOpen {
		return Decision{Allowed: false, Channel: channel, Reason: fmt.Sprintf("%s channel is closed", wantType)}
	}
	if channel.Type == types.ChannelSodium && channel.GateVoltage > 0 && c.metrics.Pressure > channel.GateVoltage {
		// The high-security gate stays shut while the system is under
		// pressure; nothing security-critical moves on a stressed system.
		return Decision{Allowed: false, Channel: channel, Reason: "high-security gate closed under system pressure"}
	}
	if !channel.Accepts(category) {
		return Decision{Allowed: false, Channel: channel, Reason: fmt.Sprintf("%s channel does not accept %s data", wantType, category)}
	}

	modifications := map[string]interface{}{
		"channel":  channel.ID,
		"category": string(category),
	}
	switch channel.Type {
	case types.ChannelSodium:
		modifications["securityVerified"] = true
	case types.ChannelPotassium:
		// Strategies crossing the learning channel get a small confidence
		// boost: they survived the permeability check.
		modifications["confidenceBoost"] = 0.05
	}

	return Decision{
		Allowed:       true,
		Channel:       channel,
		Reason:        fmt.Sprintf("%s data admitted through %s channel", category, wantType),
		Modifications: modifications,
	}
}

func (c *Controller) channelByTypeLocked(t types.ChannelType) *types.MembraneChannel {
	for _, ch := range c.channels {
		if ch.Type == t {
			return ch
		}
	}
	return nil
}

// Channels returns a snapshot of the channel table
func (c *Controller) Channels() []types.MembraneChannel {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]types.MembraneChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		snapshot = append(snapshot, *ch)
	}
	return snapshot
}

// Metrics returns the most recently computed homeostasis metrics
func (c *Controller) Metrics() types.HomeostasisMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}
