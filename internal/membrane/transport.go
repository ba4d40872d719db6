package membrane

import (
	"fmt"
	"time"
)

// provenanceKey is where transport provenance is attached on the payload.
// The payload itself is returned unchanged apart from this entry.
const provenanceKey = "_transport"

// FacilitatedDiffusion moves data along a concentration gradient at no
// throughput cost. Use raises the carrying channel's conductance slightly.
// Gradient must be positive: diffusion never runs uphill.
func (c *Controller) FacilitatedDiffusion(data map[string]interface{}, gradient float64) (map[string]interface{}, error) {
	if gradient <= 0 {
		return nil, fmt.Errorf("facilitated diffusion requires a positive gradient, got %v", gradient)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	category := CategorizeData(data)
	wantType, ok := preferredChannelType(category)
	if !ok {
		return nil, fmt.Errorf("no channel type carries %s data", category)
	}
	channel := c.channelByTypeLocked(wantType)
	if channel == nil || !channel.IsOpen {
		return nil, fmt.Errorf("no open %s channel for diffusion", wantType)
	}

	channel.Conductance = clampConductance(channel.Conductance + 0.01*gradient)
	c.activity++

	data[provenanceKey] = map[string]interface{}{
		"mode":     "facilitated_diffusion",
		"channel":  channel.ID,
		"gradient": gradient,
		"at":       c.now().Format(time.RFC3339),
	}
	return data, nil
}

// ActiveTransport moves data against the gradient at an energy cost drawn
// from the controller's throughput budget. It fails when the budget is
// insufficient; the budget refills at the configured sustained rate.
func (c *Controller) ActiveTransport(data map[string]interface{}, destination string, energyCost float64) (map[string]interface{}, error) {
	if energyCost <= 0 {
		return nil, fmt.Errorf("active transport requires a positive energy cost, got %v", energyCost)
	}

	cost := int(energyCost)
	if cost < 1 {
		cost = 1
	}
	if !c.budget.AllowN(time.Now(), cost) {
		return nil, fmt.Errorf("insufficient transport budget for cost %d to %s", cost, destination)
	}

	decision := c.CheckPermeability(data, destination)
	if !decision.Allowed {
		return nil, fmt.Errorf("active transport rejected: %s", decision.Reason)
	}

	c.mu.Lock()
	c.activity += cost
	c.mu.Unlock()

	data[provenanceKey] = map[string]interface{}{
		"mode":        "active_transport",
		"channel":     decision.Channel.ID,
		"destination": destination,
		"energyCost":  cost,
		"at":          c.now().Format(time.RFC3339),
	}
	for k, v := range decision.Modifications {
		data[provenanceKey].(map[string]interface{})[k] = v
	}
	return data, nil
}
