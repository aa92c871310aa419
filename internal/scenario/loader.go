// Package scenario loads scenario definitions from YAML files.
//
// A file holds one or more YAML documents, each describing one scenario:
//
//	name: contact form rejects an invalid email
//	tags: [contact]
//	config:
//	  settle_delay: 1s
//	steps:
//	  - click: text=Get In Touch
//	  - fill: {locator: "input[name=email]", text: not-an-email}
//	  - click: role=button[name="Send Message"]
//	assertions:
//	  - visible: text=Please enter a valid email
//	    timeout: 2s
//	failure_message: the form accepted an invalid email
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// document is the top level of one scenario YAML document.
type document struct {
	Name           string           `yaml:"name"`
	Description    string           `yaml:"description"`
	Tags           []string         `yaml:"tags"`
	Config         *configOverrides `yaml:"config"`
	Steps          []yaml.Node      `yaml:"steps"`
	Assertions     []yaml.Node      `yaml:"assertions"`
	FailureMessage string           `yaml:"failure_message"`
}

// Loader turns scenario files into validated scenarios.
type Loader struct {
	defaults schemas.SessionConfig
	logger   *zap.Logger
}

// NewLoader returns a Loader that merges every scenario's config block over defaults.
func NewLoader(defaults schemas.SessionConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{defaults: defaults, logger: logger.Named("scenario_loader")}
}

// IsScenarioFile reports whether path has a YAML extension.
func IsScenarioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads every path in order. Directories are walked recursively and
// their YAML files loaded in lexical order. Scenario names must be unique
// across the whole set.
func (l *Loader) Load(paths ...string) ([]*schemas.Scenario, error) {
	if len(paths) == 0 {
		return nil, invalid(errors.New("no scenario paths given"))
	}
	var files []string
	for _, p := range paths {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return nil, invalid(fmt.Errorf("invalid path %q: %w", p, err))
		}
		found, err := collect(expanded)
		if err != nil {
			return nil, invalid(err)
		}
		files = append(files, found...)
	}

	var out []*schemas.Scenario
	seen := make(map[string]string)
	for _, file := range files {
		scns, err := l.LoadFile(file)
		if err != nil {
			return nil, err
		}
		for _, s := range scns {
			if prev, dup := seen[s.Name]; dup {
				return nil, invalid(fmt.Errorf("scenario %q is defined in both %s and %s", s.Name, prev, s.Source))
			}
			seen[s.Name] = s.Source
			out = append(out, s)
		}
	}
	l.logger.Debug("Scenarios loaded.", zap.Int("files", len(files)), zap.Int("scenarios", len(out)))
	return out, nil
}

func collect(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsScenarioFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .yaml or .yml files under %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile parses every document in one file.
func (l *Loader) LoadFile(path string) ([]*schemas.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid(fmt.Errorf("cannot read %s: %w", path, err))
	}
	return l.Parse(data, path)
}

// Parse decodes scenario documents from data. source names the input in
// error messages and fills in missing scenario names.
func (l *Loader) Parse(data []byte, source string) ([]*schemas.Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []*schemas.Scenario
	for i := 0; ; i++ {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid(fmt.Errorf("%s: %w", source, err))
		}
		scn, err := l.build(doc, source, i)
		if err != nil {
			return nil, invalid(fmt.Errorf("%s: %w", source, err))
		}
		out = append(out, scn)
	}
	if len(out) == 0 {
		return nil, invalid(fmt.Errorf("%s: no scenarios defined", source))
	}
	return out, nil
}

func (l *Loader) build(doc document, source string, index int) (*schemas.Scenario, error) {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		if index > 0 {
			name = fmt.Sprintf("%s#%d", name, index+1)
		}
	}

	cfg, err := doc.Config.apply(l.defaults)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: config: %w", name, err)
	}

	scn := &schemas.Scenario{
		Name:           name,
		Description:    doc.Description,
		Source:         source,
		Tags:           doc.Tags,
		Config:         cfg,
		FailureMessage: doc.FailureMessage,
	}
	for i := range doc.Steps {
		step, err := decodeStep(&doc.Steps[i])
		if err != nil {
			return nil, fmt.Errorf("scenario %q: step %d: %w", name, i+1, err)
		}
		scn.Steps = append(scn.Steps, step)
	}
	for i := range doc.Assertions {
		a, err := decodeAssertion(&doc.Assertions[i])
		if err != nil {
			return nil, fmt.Errorf("scenario %q: assertion %d: %w", name, i+1, err)
		}
		scn.Assertions = append(scn.Assertions, a)
	}
	if err := scn.Validate(); err != nil {
		return nil, err
	}
	return scn, nil
}

// FilterTags keeps the scenarios carrying at least one of tags. No tags keeps everything.
func FilterTags(scns []*schemas.Scenario, tags []string) []*schemas.Scenario {
	if len(tags) == 0 {
		return scns
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[strings.ToLower(strings.TrimSpace(t))] = true
	}
	var out []*schemas.Scenario
	for _, s := range scns {
		for _, t := range s.Tags {
			if want[strings.ToLower(t)] {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func invalid(err error) error {
	return schemas.NewError(schemas.ErrCodeInvalidScenario, "load scenarios", err)
}
