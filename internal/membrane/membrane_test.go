package membrane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pristine-labs/coreguard/internal/types"
)

func transformationData() map[string]interface{} {
	return map[string]interface{}{
		"patchId":      "p-1",
		"filesTouched": []string{"a.ts"},
	}
}

func securityData() map[string]interface{} {
	return map[string]interface{}{"securityLevel": "critical"}
}

func strategyData() map[string]interface{} {
	return map[string]interface{}{"pattern": "x", "confidence": 0.7}
}

func TestCategorizeData(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
		want types.DataCategory
	}{
		{"transformation", transformationData(), types.DataTransformation},
		{"security", securityData(), types.DataSecurityCritical},
		{"strategy", strategyData(), types.DataLearningStrategy},
		{"core protection", map[string]interface{}{"violations": []string{}}, types.DataCoreProtection},
		{"consequence", map[string]interface{}{"transformation": nil, "guardrails": nil}, types.DataConsequenceRecord},
		{"error", map[string]interface{}{"error": "boom"}, types.DataSystemError},
		{"metric", map[string]interface{}{"durationMs": 12}, types.DataPerformanceMetric},
		{"unknown", map[string]interface{}{"whatever": 1}, types.DataUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeData(tt.data))
		})
	}
}

func TestCheckPermeability_RoutesByCategory(t *testing.T) {
	c := NewController(nil)

	decision := c.CheckPermeability(transformationData(), "learning_zone")
	require.True(t, decision.Allowed)
	assert.Equal(t, types.ChannelData, decision.Channel.Type)

	decision = c.CheckPermeability(strategyData(), "learning_zone")
	require.True(t, decision.Allowed)
	assert.Equal(t, types.ChannelPotassium, decision.Channel.Type)
	assert.Equal(t, 0.05, decision.Modifications["confidenceBoost"])
}

func TestCheckPermeability_NucleusRequiresSodium(t *testing.T) {
	c := NewController(nil)

	// Security-critical data rides the sodium channel and may enter.
	decision := c.CheckPermeability(securityData(), DestinationNucleus)
	require.True(t, decision.Allowed)
	assert.Equal(t, types.ChannelSodium, decision.Channel.Type)
	assert.Equal(t, true, decision.Modifications["securityVerified"])

	// Every other category is rejected at the nucleus even though its own
	// channel is open.
	for _, data := range []map[string]interface{}{
		transformationData(),
		strategyData(),
		{"durationMs": 5},
		{"error": "boom"},
	} {
		decision := c.CheckPermeability(data, DestinationNucleus)
		assert.False(t, decision.Allowed, "category %s must not enter the nucleus", CategorizeData(data))
	}
}

func TestCheckPermeability_ClosedChannel(t *testing.T) {
	c := NewController(nil)

	// The emergency channel starts closed.
	decision := c.CheckPermeability(map[string]interface{}{"error": "boom"}, "learning_zone")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "closed")
}

func TestCheckPermeability_UnknownCategory(t *testing.T) {
	c := NewController(nil)

	decision := c.CheckPermeability(map[string]interface{}{"mystery": true}, "learning_zone")
	assert.False(t, decision.Allowed)
}

func TestCheckPermeability_SodiumGateUnderPressure(t *testing.T) {
	c := NewController(nil)
	c.metrics.Pressure = 0.95

	decision := c.CheckPermeability(securityData(), DestinationNucleus)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "pressure")
}

func TestMaintainHomeostasis_Steady(t *testing.T) {
	c := NewController(nil)

	metrics := c.MaintainHomeostasis()

	assert.InDelta(t, stabilityCenter, metrics.PH, 0.5)
	assert.Less(t, metrics.Temperature, heatThreshold)
	assert.Equal(t, 0.0, metrics.Pressure)
	assert.Len(t, metrics.IonBalance, 5)
	assert.False(t, metrics.Timestamp.IsZero())
}

func TestMaintainHomeostasis_HeatDampsConductance(t *testing.T) {
	c := NewController(nil)
	c.activity = 20 // 36.5 + 20*0.25 = 41.5, above threshold

	metrics := c.MaintainHomeostasis()
	assert.Greater(t, metrics.Temperature, heatThreshold)

	// The emergency channel opened.
	var calcium types.MembraneChannel
	for _, ch := range c.Channels() {
		if ch.Type == types.ChannelCalcium {
			calcium = ch
		}
	}
	assert.True(t, calcium.IsOpen)

	// Activity resets after a tick, so a second tick cools down.
	cooled := c.MaintainHomeostasis()
	assert.Less(t, cooled.Temperature, heatThreshold)
}

func TestMaintainHomeostasis_PressureShedsChannels(t *testing.T) {
	c := NewController(nil)
	c.activity = 64 // pressure 1.0, so Float64() < pressure always holds

	c.MaintainHomeostasis()

	for _, ch := range c.Channels() {
		switch ch.Type {
		case types.ChannelSodium, types.ChannelCalcium:
			// Essential channels never shed.
		default:
			assert.False(t, ch.IsOpen, "%s channel should have closed under pressure", ch.Type)
		}
	}
}

func TestMaintainHomeostasis_ConductanceStaysInRange(t *testing.T) {
	c := NewController(nil)

	for i := 0; i < 50; i++ {
		c.activity = i % 30
		c.MaintainHomeostasis()
		for _, ch := range c.Channels() {
			assert.GreaterOrEqual(t, ch.Conductance, 0.0)
			assert.LessOrEqual(t, ch.Conductance, 1.0)
		}
	}
}

func TestFacilitatedDiffusion(t *testing.T) {
	c := NewController(nil)

	var before float64
	for _, ch := range c.Channels() {
		if ch.Type == types.ChannelData {
			before = ch.Conductance
		}
	}

	out, err := c.FacilitatedDiffusion(transformationData(), 2.0)
	require.NoError(t, err)

	prov, ok := out[provenanceKey].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "facilitated_diffusion", prov["mode"])

	for _, ch := range c.Channels() {
		if ch.Type == types.ChannelData {
			assert.Greater(t, ch.Conductance, before)
		}
	}
}

func TestFacilitatedDiffusion_RequiresPositiveGradient(t *testing.T) {
	c := NewController(nil)

	_, err := c.FacilitatedDiffusion(transformationData(), 0)
	assert.Error(t, err)
}

func TestActiveTransport(t *testing.T) {
	c := NewController(nil)

	out, err := c.ActiveTransport(strategyData(), "learning_zone", 5)
	require.NoError(t, err)

	prov, ok := out[provenanceKey].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "active_transport", prov["mode"])
	assert.Equal(t, 5, prov["energyCost"])
	assert.Equal(t, 0.05, prov["confidenceBoost"])
}

func TestActiveTransport_BudgetExhaustion(t *testing.T) {
	c := NewController(&Config{TransportRate: 0.001, TransportBurst: 10})

	// First transport drains the burst budget; the second must fail.
	_, err := c.ActiveTransport(strategyData(), "learning_zone", 10)
	require.NoError(t, err)

	_, err = c.ActiveTransport(strategyData(), "learning_zone", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient transport budget")
}

func TestActiveTransport_RejectedDestination(t *testing.T) {
	c := NewController(nil)

	_, err := c.ActiveTransport(strategyData(), DestinationNucleus, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}
