package daer

import "testing"

func TestComputeExecutionHash_StableAcrossEquivalentInputs(t *testing.T) {
	a := map[string]interface{}{"max_steps": 10, "max_tokens": 100}
	b := map[string]interface{}{"max_tokens": 100, "max_steps": 10}

	h1 := ComputeExecutionHash("task", a, "agent", "v1", "tools:abc", "rt:1")
	h2 := ComputeExecutionHash("task", b, "agent", "v1", "tools:abc", "rt:1")
	if h1 != h2 {
		t.Fatalf("expected equal hashes, got %s != %s", h1, h2)
	}
}

func TestComputeExecutionHash_DifferentPolicyDifferentHash(t *testing.T) {
	a := map[string]interface{}{"max_tokens": 100}
	b := map[string]interface{}{"max_tokens": 200}

	h1 := ComputeExecutionHash("task", a, "agent", "v1", "tools:abc", "rt:1")
	h2 := ComputeExecutionHash("task", b, "agent", "v1", "tools:abc", "rt:1")
	if h1 == h2 {
		t.Fatal("expected different hashes for different policy_config")
	}
}

func TestComputeExecutionHash_DifferentAgentIdentityDifferentHash(t *testing.T) {
	cfg := map[string]interface{}{"max_tokens": 100}

	h1 := ComputeExecutionHash("task", cfg, "agentA", "v1", "tools:abc", "rt:1")
	h2 := ComputeExecutionHash("task", cfg, "agentB", "v1", "tools:abc", "rt:1")
	if h1 == h2 {
		t.Fatal("expected different hashes for different agent_identity")
	}
}
