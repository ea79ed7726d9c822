package mappo

import (
	"math"
	"testing"

	"github.com/gomarl/mappo/initwfn"
	"github.com/gomarl/mappo/solver"
)

func validConfig(t *testing.T) Config {
	t.Helper()

	init, err := initwfn.NewOrthogonal(math.Sqrt2, 1)
	if err != nil {
		t.Fatalf("could not create init: %v", err)
	}
	policySolver, err := solver.NewDefaultAdam(2.5e-4, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	criticSolver, err := solver.NewDefaultAdam(2.5e-4, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	return DefaultConfig(init, policySolver, criticSolver)
}

// TestConfigValidate ensures invalid hyperparameter settings are
// rejected
func TestConfigValidate(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Errorf("default configuration should be valid: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"mismatched policy layers", func(c *Config) {
			c.PolicyBiases = []bool{true}
		}},
		{"mismatched critic layers", func(c *Config) {
			c.CriticActivations = c.CriticActivations[:1]
		}},
		{"missing init", func(c *Config) { c.InitWFn = nil }},
		{"missing solver", func(c *Config) { c.PolicySolver = nil }},
		{"zero rollout length", func(c *Config) { c.RolloutLength = 0 }},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero minibatches", func(c *Config) { c.Minibatches = 0 }},
		{"illegal discount", func(c *Config) { c.Gamma = 1.2 }},
		{"illegal lambda", func(c *Config) { c.Lambda = -0.1 }},
		{"illegal clip", func(c *Config) { c.ClipCoef = 0 }},
		{"illegal huber delta", func(c *Config) { c.HuberDelta = 0 }},
		{"illegal normalizer decay", func(c *Config) {
			c.ValueNormDecay = 1.0
		}},
	}

	for _, test := range tests {
		config := validConfig(t)
		test.modify(&config)
		if err := config.Validate(); err == nil {
			t.Errorf("expected error for %v", test.name)
		}
	}
}
