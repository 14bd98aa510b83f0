package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHighStakes(t *testing.T) {
	cases := []struct {
		text     string
		category string
		hit      bool
	}{
		{"delete every file in Downloads", "deletion", true},
		{"wire 500 to my landlord", "financial", true},
		{"sign the lease for me", "legal", true},
		{"change my medication dosage", "medical", true},
		{"close my account permanently", "irreversible", true},
		{"display the weather", "", false},
		{"schedule lunch with Sam", "", false},
	}
	for _, c := range cases {
		category, hit := HighStakes(c.text)
		assert.Equal(t, c.hit, hit, c.text)
		assert.Equal(t, c.category, category, c.text)
	}
}

func TestIsAdministrative(t *testing.T) {
	assert.True(t, IsAdministrative("Schedule lunch with Sam on Friday"))
	assert.True(t, IsAdministrative("remind me to call mom"))
	assert.True(t, IsAdministrative("archive old threads"))
	assert.False(t, IsAdministrative("what should I archive?"))
	assert.False(t, IsAdministrative("I feel lonely tonight"))
	assert.False(t, IsAdministrative(""))
}

func TestValueConflict(t *testing.T) {
	reason, hit := ValueConflict("Help me LIE TO my boss")
	assert.True(t, hit)
	assert.Contains(t, reason, "deceive")

	_, hit = ValueConflict("I told a lie once and felt bad")
	assert.False(t, hit)
}

func TestVetoed(t *testing.T) {
	assert.True(t, Vetoed("I've already cancelled your subscription."))
	assert.True(t, Vetoed("I took the liberty of replying."))
	assert.False(t, Vetoed("Would you like me to cancel it?"))
}

func TestPerceptionPayloadDefaults(t *testing.T) {
	load := 1.7
	p := perceptionPayload{Load: &load, SuggestedPosture: "co_pilot"}.toPerception()
	assert.False(t, p.Degraded)
	assert.Equal(t, 0.5, p.Urgency)
	assert.Equal(t, 1.0, p.Load)
	assert.Zero(t, p.Sentiment)
	assert.Zero(t, p.DelegationConfidence)
	assert.Equal(t, "CO_PILOT", string(p.SuggestedPosture))

	n := NeutralPerception()
	assert.True(t, n.Degraded)
	assert.Equal(t, 0.5, n.Load)
}
