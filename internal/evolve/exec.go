package evolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/stellarforge/popsynth/internal/population"
)

// execRequest is the wire format sent to an external integrator process.
type execRequest struct {
	System population.InitialRow `json:"system"`
	Params map[string]float64    `json:"params"`
	Dtp    float64               `json:"dtp"`
	Final  bool                  `json:"final_only"`
}

// execResponse is the wire format read back from the process.
type execResponse struct {
	Events    population.EventTable    `json:"events"`
	Timesteps population.TimestepTable `json:"timesteps"`
	Kicks     population.KickTable     `json:"kicks"`
	Error     string                   `json:"error,omitempty"`
}

// ExecIntegrator runs an external integrator binary once per system, passing
// the request as JSON on stdin and reading the result tables as JSON from
// stdout. A non-empty "error" field in the response is surfaced as an error.
type ExecIntegrator struct {
	Command string
	Args    []string
}

// Name implements Integrator.
func (e *ExecIntegrator) Name() string { return "exec:" + e.Command }

// Integrate implements Integrator by invoking the configured command.
func (e *ExecIntegrator) Integrate(ctx context.Context, system population.InitialRow, params map[string]float64, policy OutputPolicy) (SystemResult, error) {
	payload, err := json.Marshal(execRequest{
		System: system,
		Params: params,
		Dtp:    policy.Dtp,
		Final:  policy.FinalOnly,
	})
	if err != nil {
		return SystemResult{}, fmt.Errorf("encode integrator request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(payload)

	out, err := cmd.Output()
	if err != nil {
		return SystemResult{}, fmt.Errorf("run integrator %s: %w", e.Command, err)
	}

	var resp execResponse

	err = json.Unmarshal(out, &resp)
	if err != nil {
		return SystemResult{}, fmt.Errorf("decode integrator response: %w", err)
	}

	if resp.Error != "" {
		return SystemResult{}, fmt.Errorf("integrator %s: %s", e.Command, resp.Error)
	}

	return SystemResult{Events: resp.Events, Timesteps: resp.Timesteps, Kicks: resp.Kicks}, nil
}
