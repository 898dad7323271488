package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/liftsync/internal/entity"
)

// Scenario is one end-to-end sync test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Owner is the signed-in user at the start. Empty starts signed out.
	Owner string `yaml:"owner"`

	// Online is the starting connectivity. Defaults to true.
	Online *bool `yaml:"online,omitempty"`

	// Engine tuning. Zero values use the engine defaults.
	PageSize  int `yaml:"page_size,omitempty"`
	PushBatch int `yaml:"push_batch,omitempty"`
	MaxPages  int `yaml:"max_pages,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is a single scenario action. Exactly one field must be set.
type Step struct {
	Online  *bool   `yaml:"online,omitempty"`
	Owner   *string `yaml:"owner,omitempty"`
	SignOut bool    `yaml:"signout,omitempty"`

	Put    *RowStep `yaml:"put,omitempty"`
	Delete *RowStep `yaml:"delete,omitempty"`

	RemotePut  *RowStep  `yaml:"remote_put,omitempty"`
	RemoteSeed *SeedStep `yaml:"remote_seed,omitempty"`

	Reject   *RejectStep `yaml:"reject,omitempty"`
	Accept   string      `yaml:"accept,omitempty"`
	FailNext int         `yaml:"fail_next,omitempty"`

	Sync bool `yaml:"sync,omitempty"`

	ShowOutbox bool     `yaml:"show_outbox,omitempty"`
	ShowCalls  bool     `yaml:"show_calls,omitempty"`
	ShowLocal  *RowStep `yaml:"show_local,omitempty"`

	ExpectPending *int       `yaml:"expect_pending,omitempty"`
	ExpectLocal   *CountStep `yaml:"expect_local,omitempty"`
	ExpectRemote  *CountStep `yaml:"expect_remote,omitempty"`
}

// RowStep identifies an entity and, for writes, its payload.
type RowStep struct {
	Kind string `yaml:"kind"`
	ID   string `yaml:"id"`

	// Owner overrides the current owner for remote_put.
	Owner string `yaml:"owner,omitempty"`

	Payload map[string]interface{} `yaml:"payload,omitempty"`
}

// SeedStep writes Count generated rows to the remote.
type SeedStep struct {
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count"`

	// Prefix for generated ids, default "seed".
	Prefix string `yaml:"prefix,omitempty"`
}

// RejectStep makes the remote refuse every write for ID.
type RejectStep struct {
	ID      string `yaml:"id"`
	Message string `yaml:"message"`
}

// CountStep expects Count live rows of Kind for the current owner.
type CountStep struct {
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	if s.PageSize < 0 || s.PushBatch < 0 || s.MaxPages < 0 {
		return errors.New("page_size, push_batch and max_pages must not be negative")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	if n := st.actionCount(); n != 1 {
		return fmt.Errorf("exactly one action per step, got %d", n)
	}

	switch {
	case st.Owner != nil && *st.Owner == "":
		return errors.New("owner must not be empty, use signout")
	case st.Put != nil:
		return validateRow(st.Put)
	case st.Delete != nil:
		return validateRow(st.Delete)
	case st.RemotePut != nil:
		return validateRow(st.RemotePut)
	case st.ShowLocal != nil:
		return validateRow(st.ShowLocal)
	case st.RemoteSeed != nil:
		if st.RemoteSeed.Count <= 0 {
			return errors.New("remote_seed count must be positive")
		}
		return validateKind(st.RemoteSeed.Kind)
	case st.Reject != nil:
		if st.Reject.ID == "" {
			return errors.New("reject id is required")
		}
	case st.FailNext < 0:
		return errors.New("fail_next must not be negative")
	case st.ExpectPending != nil && *st.ExpectPending < 0:
		return errors.New("expect_pending must not be negative")
	case st.ExpectLocal != nil:
		return validateKind(st.ExpectLocal.Kind)
	case st.ExpectRemote != nil:
		return validateKind(st.ExpectRemote.Kind)
	}
	return nil
}

func validateRow(r *RowStep) error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	return validateKind(r.Kind)
}

func validateKind(s string) error {
	_, err := entity.ParseKind(s)
	return err
}

func (st Step) actionCount() int {
	n := 0
	for _, set := range []bool{
		st.Online != nil,
		st.Owner != nil,
		st.SignOut,
		st.Put != nil,
		st.Delete != nil,
		st.RemotePut != nil,
		st.RemoteSeed != nil,
		st.Reject != nil,
		st.Accept != "",
		st.FailNext != 0,
		st.Sync,
		st.ShowOutbox,
		st.ShowCalls,
		st.ShowLocal != nil,
		st.ExpectPending != nil,
		st.ExpectLocal != nil,
		st.ExpectRemote != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
