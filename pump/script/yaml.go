package script

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/pump"
)

// Definition is the YAML form of a suite:
//
//	name: nightly
//	every: 1 days
//	target: warehouse
//	jobs:
//	  - load sys_user into users truncate
//	  - refresh incident where {active=true}
type Definition struct {
	Name   string   `yaml:"name"`
	Every  string   `yaml:"every,omitempty"`
	Target string   `yaml:"target,omitempty"`
	Jobs   []string `yaml:"jobs"`
}

// ParseDefinition decodes a YAML suite definition without building it.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.WrapInit(err, "failed to parse suite YAML")
	}
	if len(def.Jobs) == 0 {
		return nil, errors.NewInit("suite %q has no jobs", def.Name)
	}
	return &def, nil
}

// ParseYAML builds a suite from a YAML definition.
func ParseYAML(data []byte, now time.Time) (*pump.Suite, error) {
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return def.Suite(now)
}

// Suite builds the QUEUED suite the definition describes. Each job string
// uses the script command grammar.
func (d *Definition) Suite(now time.Time) (*pump.Suite, error) {
	lines := make([]string, 0, len(d.Jobs)+1)
	if every := strings.TrimSpace(d.Every); every != "" {
		lines = append(lines, "every "+every)
	}
	for _, job := range d.Jobs {
		lines = append(lines, strings.ReplaceAll(job, "\n", " "))
	}
	suite, err := ParseLines(lines, now)
	if err != nil {
		return nil, errors.Wrapf(err, "suite %q", d.Name)
	}
	suite.Name = d.Name
	suite.Target = d.Target
	return suite, nil
}

// DefinitionOf renders a suite back to its YAML definition.
func DefinitionOf(s *pump.Suite) *Definition {
	def := &Definition{Name: s.Name, Target: s.Target}
	if s.IsPolling() {
		def.Every = formatFrequency(s.Frequency)
	}
	for _, j := range s.Jobs {
		def.Jobs = append(def.Jobs, FormatCommand(j))
	}
	return def
}

// Marshal encodes the definition as YAML.
func (d *Definition) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode suite YAML")
	}
	return out, nil
}

func formatFrequency(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return strconv.Itoa(int(d/(24*time.Hour))) + " days"
	case d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + " hours"
	case d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + " minutes"
	}
	return strconv.Itoa(int(d/time.Second)) + " seconds"
}
