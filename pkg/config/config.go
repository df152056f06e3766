// Package config loads workflow topologies and topic configuration from
// YAML files. The file-level types mirror the YAML shape; Load converts
// them to the api types and validates both shape and semantics.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/approvo/pkg/api"
)

// File is the root of an approvo configuration file.
type File struct {
	Topology TopologyConfig `yaml:"topology" validate:"required"`
	Topics   []TopicConfig  `yaml:"topics"   validate:"dive"`
}

// TopologyConfig is the YAML shape of a stage topology.
type TopologyConfig struct {
	Name   string        `yaml:"name"   validate:"required"`
	Stages []StageConfig `yaml:"stages" validate:"required,min=1,dive"`
}

// StageConfig is the YAML shape of one stage.
type StageConfig struct {
	Name           string                      `yaml:"name"            validate:"required"`
	TaskName       string                      `yaml:"task_name"`
	Kind           string                      `yaml:"kind"            validate:"required,oneof=HUMAN WORKER"`
	RoleGroups     []string                    `yaml:"role_groups"`
	Topic          string                      `yaml:"topic"`
	DecisionVar    string                      `yaml:"decision_var"    validate:"required"`
	SLA            string                      `yaml:"sla"`
	EscalationRole string                      `yaml:"escalation_role"`
	Transitions    map[string]TransitionConfig `yaml:"transitions"     validate:"required,min=1"`
}

// TransitionConfig maps a decision value to a next stage or terminal status.
type TransitionConfig struct {
	NextStage string `yaml:"next_stage"`
	Terminal  string `yaml:"terminal"`
}

// TopicConfig is the YAML shape of a worker topic.
type TopicConfig struct {
	Name       string         `yaml:"name"        validate:"required"`
	MaxRetries int            `yaml:"max_retries" validate:"min=1"`
	BaseDelay  string         `yaml:"base_delay"  validate:"required"`
	Fallback   FallbackConfig `yaml:"fallback"    validate:"required"`
}

// FallbackConfig is the YAML shape of a topic's fallback policy.
type FallbackConfig struct {
	Kind      string         `yaml:"kind" validate:"required,oneof=completeWithDefault raiseIncident completeWithFailureFlag"`
	Variables map[string]any `yaml:"variables"`
}

var validate = validator.New()

// Load reads a configuration file and returns the topology and topic
// configurations it defines. The returned topology passes api-level
// validation.
func Load(path string) (api.Topology, []api.TopicConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.Topology{}, nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration data.
func Parse(data []byte) (api.Topology, []api.TopicConfig, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return api.Topology{}, nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return api.Topology{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	topo, err := f.Topology.toAPI()
	if err != nil {
		return api.Topology{}, nil, err
	}
	if err := topo.Validate(); err != nil {
		return api.Topology{}, nil, err
	}

	topics := make([]api.TopicConfig, 0, len(f.Topics))
	for _, tc := range f.Topics {
		converted, err := tc.toAPI()
		if err != nil {
			return api.Topology{}, nil, err
		}
		topics = append(topics, converted)
	}
	return topo, topics, nil
}

func (tc TopologyConfig) toAPI() (api.Topology, error) {
	topo := api.Topology{Name: tc.Name}
	for _, sc := range tc.Stages {
		spec := api.StageSpec{
			Name:           sc.Name,
			TaskName:       sc.TaskName,
			Kind:           api.TaskKind(sc.Kind),
			RoleGroups:     sc.RoleGroups,
			Topic:          sc.Topic,
			DecisionVar:    sc.DecisionVar,
			EscalationRole: sc.EscalationRole,
			Transitions:    make(map[string]api.Transition, len(sc.Transitions)),
		}
		if spec.TaskName == "" {
			spec.TaskName = sc.Name
		}
		if sc.SLA != "" {
			d, err := time.ParseDuration(sc.SLA)
			if err != nil {
				return api.Topology{}, fmt.Errorf("stage %q: invalid sla %q: %w", sc.Name, sc.SLA, err)
			}
			spec.SLA = d
		}
		for value, tr := range sc.Transitions {
			spec.Transitions[value] = api.Transition{
				NextStage: tr.NextStage,
				Terminal:  api.Status(tr.Terminal),
			}
		}
		topo.Stages = append(topo.Stages, spec)
	}
	return topo, nil
}

func (tc TopicConfig) toAPI() (api.TopicConfig, error) {
	delay, err := time.ParseDuration(tc.BaseDelay)
	if err != nil {
		return api.TopicConfig{}, fmt.Errorf("topic %q: invalid base_delay %q: %w", tc.Name, tc.BaseDelay, err)
	}
	return api.TopicConfig{
		Name:       tc.Name,
		MaxRetries: tc.MaxRetries,
		BaseDelay:  delay,
		Fallback: api.FallbackPolicy{
			Kind:      api.FallbackKind(tc.Fallback.Kind),
			Variables: tc.Fallback.Variables,
		},
	}, nil
}
