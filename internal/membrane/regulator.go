package membrane

import (
	"context"
	"time"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Homeostasis bands and targets. The stability score lives on a pH-like
// scale centered at 7.2; load-heat on a body-temperature-like scale.
const (
	stabilityLow    = 6.8
	stabilityHigh   = 7.6
	stabilityCenter = 7.2

	heatBaseline  = 36.5
	heatThreshold = 39.0
	heatPerUnit   = 0.25

	pressureThreshold = 0.8
	pressureCapacity  = 64.0

	rebalanceStep = 0.05
)

// ionTargets are the per-channel-type resource levels the regulator
// nudges conductance toward.
var ionTargets = map[types.ChannelType]float64{
	types.ChannelSodium:    0.9,
	types.ChannelPotassium: 0.7,
	types.ChannelCalcium:   0.5,
	types.ChannelData:      0.6,
	types.ChannelEnergy:    0.8,
}

// MaintainHomeostasis recomputes the system health metrics and applies
// corrective channel adjustments: stability drift opens or closes
// compensating channel types, excess load-heat dampens all conductances and
// opens the emergency channel, and high pressure probabilistically closes
// non-essential channels. Per-type resource levels are nudged toward fixed
// targets. Returns the fresh metrics.
func (c *Controller) MaintainHomeostasis() types.HomeostasisMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := c.computeMetricsLocked()

	// Stability drift: compensate by gating the learning and general-data
	// channels, which produce most of the churn.
	if metrics.PH < stabilityLow {
		if ch := c.channelByTypeLocked(types.ChannelData); ch != nil {
			ch.IsOpen = false
		}
		if ch := c.channelByTypeLocked(types.ChannelPotassium); ch != nil {
			ch.IsOpen = true
		}
	} else if metrics.PH > stabilityHigh {
		if ch := c.channelByTypeLocked(types.ChannelData); ch != nil {
			ch.IsOpen = true
		}
	}

	// Load-heat: cool the system by damping every channel and opening the
	// emergency channel so errors still flow.
	if metrics.Temperature > heatThreshold {
		for _, ch := range c.channels {
			ch.Conductance = clampConductance(ch.Conductance * 0.8)
		}
		if ch := c.channelByTypeLocked(types.ChannelCalcium); ch != nil {
			ch.IsOpen = true
		}
	}

	// Pressure: shed load by probabilistically closing non-essential
	// channels. Sodium and calcium always stay available.
	if metrics.Pressure > pressureThreshold {
		for _, ch := range c.channels {
			if ch.Type == types.ChannelSodium || ch.Type == types.ChannelCalcium {
				continue
			}
			if c.rng.Float64() < metrics.Pressure {
				ch.IsOpen = false
			}
		}
	}

	// Rebalance per-type resource levels toward their targets.
	for _, ch := range c.channels {
		target, ok := ionTargets[ch.Type]
		if !ok {
			continue
		}
		switch {
		case ch.Conductance < target-rebalanceStep:
			ch.Conductance = clampConductance(ch.Conductance + rebalanceStep)
		case ch.Conductance > target+rebalanceStep:
			ch.Conductance = clampConductance(ch.Conductance - rebalanceStep)
		}
	}

	// Heat dissipates once accounted for.
	c.activity = 0

	metrics.IonBalance = c.ionBalanceLocked()
	c.metrics = metrics
	return metrics
}

// Run recomputes homeostasis on a fixed interval until the context is
// cancelled. The tick is independent of any in-flight transformation.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.MaintainHomeostasis()
		}
	}
}

// computeMetricsLocked derives fresh metrics from channel state and
// transport activity since the last tick.
func (c *Controller) computeMetricsLocked() types.HomeostasisMetrics {
	open := 0
	var conductanceSum float64
	for _, ch := range c.channels {
		if ch.IsOpen {
			open++
		}
		conductanceSum += ch.Conductance
	}

	meanConductance := 0.0
	if len(c.channels) > 0 {
		meanConductance = conductanceSum / float64(len(c.channels))
	}

	// Stability tracks how far mean conductance sits from its resting
	// point; a fully damped or fully saturated membrane reads as drift.
	ph := stabilityCenter + (meanConductance-0.7)*2

	temperature := heatBaseline + float64(c.activity)*heatPerUnit

	pressure := float64(c.activity) / pressureCapacity
	if pressure > 1 {
		pressure = 1
	}

	return types.HomeostasisMetrics{
		PH:          ph,
		Temperature: temperature,
		Pressure:    pressure,
		IonBalance:  c.ionBalanceLocked(),
		Timestamp:   c.now(),
	}
}

func (c *Controller) ionBalanceLocked() map[types.ChannelType]float64 {
	balance := make(map[types.ChannelType]float64, len(c.channels))
	for _, ch := range c.channels {
		balance[ch.Type] = ch.Conductance
	}
	return balance
}

func clampConductance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
