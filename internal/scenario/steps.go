package scenario

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// nodeError points at the line of the offending node.
func nodeError(n *yaml.Node, format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

// mappingPairs returns the key/value pairs of a mapping node.
func mappingPairs(n *yaml.Node) ([][2]*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, nodeError(n, "expected a mapping")
	}
	pairs := make([][2]*yaml.Node, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, [2]*yaml.Node{n.Content[i], n.Content[i+1]})
	}
	return pairs, nil
}

func decodeLocator(n *yaml.Node) (schemas.Locator, error) {
	if n.Kind != yaml.ScalarNode {
		return schemas.Locator{}, nodeError(n, "locator must be a string")
	}
	loc, err := schemas.ParseLocator(n.Value)
	if err != nil {
		return schemas.Locator{}, nodeError(n, "%v", err)
	}
	return loc, nil
}

func decodeDuration(n *yaml.Node) (time.Duration, error) {
	var d time.Duration
	if err := n.Decode(&d); err != nil {
		return 0, nodeError(n, "invalid duration %q", n.Value)
	}
	return d, nil
}

// stepFields is the long form shared by all step kinds.
type stepFields struct {
	Name      string        `yaml:"name"`
	URL       string        `yaml:"url"`
	WaitUntil string        `yaml:"wait_until"`
	Locator   yaml.Node     `yaml:"locator"`
	Text      *string       `yaml:"text"`
	DX        float64       `yaml:"dx"`
	DY        float64       `yaml:"dy"`
	Duration  time.Duration `yaml:"duration"`
	Width     int           `yaml:"width"`
	Height    int           `yaml:"height"`
	Timeout   time.Duration `yaml:"timeout"`
}

var stepFieldKeys = map[string]bool{
	"name": true, "url": true, "wait_until": true, "locator": true, "text": true,
	"dx": true, "dy": true, "duration": true, "width": true, "height": true, "timeout": true,
}

var stepKinds = map[string]schemas.StepKind{
	"navigate": schemas.StepNavigate,
	"goto":     schemas.StepNavigate,
	"click":    schemas.StepClick,
	"fill":     schemas.StepFill,
	"scroll":   schemas.StepScroll,
	"wait":     schemas.StepWait,
	"viewport": schemas.StepViewport,
}

// decodeStep reads one list item of the steps block. Each item is a mapping
// with a single action key and an optional name:
//
//	- click: text=Get In Touch
//	- name: open the form
//	  fill: {locator: "input[name=email]", text: invalid}
func decodeStep(n *yaml.Node) (schemas.Step, error) {
	pairs, err := mappingPairs(n)
	if err != nil {
		return schemas.Step{}, err
	}
	var (
		name   string
		action *yaml.Node
		body   *yaml.Node
	)
	for _, kv := range pairs {
		key := kv[0].Value
		switch {
		case key == "name":
			name = kv[1].Value
		case stepKinds[key] != "":
			if action != nil {
				return schemas.Step{}, nodeError(kv[0], "step has both %q and %q", action.Value, key)
			}
			action, body = kv[0], kv[1]
		default:
			return schemas.Step{}, nodeError(kv[0], "unknown step action %q", key)
		}
	}
	if action == nil {
		return schemas.Step{}, nodeError(n, "step has no action (want one of navigate, click, fill, scroll, wait, viewport)")
	}

	step, err := decodeAction(stepKinds[action.Value], body)
	if err != nil {
		return schemas.Step{}, fmt.Errorf("%s: %w", action.Value, err)
	}
	if name != "" {
		step.Name = name
	}
	return step, nil
}

func decodeAction(kind schemas.StepKind, n *yaml.Node) (schemas.Step, error) {
	if n.Kind == yaml.ScalarNode {
		return decodeShortAction(kind, n)
	}

	pairs, err := mappingPairs(n)
	if err != nil {
		return schemas.Step{}, err
	}
	for _, kv := range pairs {
		if !stepFieldKeys[kv[0].Value] {
			return schemas.Step{}, nodeError(kv[0], "unknown field %q", kv[0].Value)
		}
	}

	var f stepFields
	if err := n.Decode(&f); err != nil {
		return schemas.Step{}, nodeError(n, "%v", err)
	}
	step := schemas.Step{Kind: kind, Name: f.Name, Timeout: f.Timeout}
	switch kind {
	case schemas.StepNavigate:
		step.URL = f.URL
		cond, err := parseWait(n, f.WaitUntil)
		if err != nil {
			return step, err
		}
		step.WaitUntil = cond
	case schemas.StepClick, schemas.StepFill:
		if f.Locator.Kind == 0 {
			return step, nodeError(n, "locator is required")
		}
		loc, err := decodeLocator(&f.Locator)
		if err != nil {
			return step, err
		}
		step.Locator = loc
		if kind == schemas.StepFill {
			if f.Text == nil {
				return step, nodeError(n, "text is required (use \"\" to clear the field)")
			}
			step.Text = *f.Text
		}
	case schemas.StepScroll:
		step.DeltaX, step.DeltaY = f.DX, f.DY
	case schemas.StepWait:
		step.Duration = f.Duration
	case schemas.StepViewport:
		step.Width, step.Height = f.Width, f.Height
	}
	return step, nil
}

// decodeShortAction handles the scalar forms: a URL, a locator, a vertical
// scroll distance, a duration or WIDTHxHEIGHT.
func decodeShortAction(kind schemas.StepKind, n *yaml.Node) (schemas.Step, error) {
	switch kind {
	case schemas.StepNavigate:
		return schemas.Navigate(n.Value, ""), nil
	case schemas.StepClick:
		loc, err := decodeLocator(n)
		if err != nil {
			return schemas.Step{}, err
		}
		return schemas.Click(loc, 0), nil
	case schemas.StepScroll:
		dy, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return schemas.Step{}, nodeError(n, "scroll distance %q is not a number", n.Value)
		}
		return schemas.Scroll(0, dy), nil
	case schemas.StepWait:
		d, err := decodeDuration(n)
		if err != nil {
			return schemas.Step{}, err
		}
		return schemas.WaitFixed(d), nil
	case schemas.StepViewport:
		w, h, ok := strings.Cut(strings.ToLower(n.Value), "x")
		width, werr := strconv.Atoi(strings.TrimSpace(w))
		height, herr := strconv.Atoi(strings.TrimSpace(h))
		if !ok || werr != nil || herr != nil {
			return schemas.Step{}, nodeError(n, "viewport %q is not WIDTHxHEIGHT", n.Value)
		}
		return schemas.SetViewport(width, height), nil
	default:
		return schemas.Step{}, nodeError(n, "%s needs a mapping with locator and text", kind)
	}
}

func parseWait(n *yaml.Node, raw string) (schemas.WaitCondition, error) {
	if raw == "" {
		return "", nil
	}
	cond, err := schemas.ParseWaitCondition(raw)
	if err != nil {
		return "", nodeError(n, "%v", err)
	}
	return cond, nil
}

type assertionFields struct {
	Visible yaml.Node     `yaml:"visible"`
	Hidden  yaml.Node     `yaml:"hidden"`
	Timeout time.Duration `yaml:"timeout"`
	Message string        `yaml:"message"`
}

// decodeAssertion reads `visible: <locator>` or `hidden: <locator>` with an
// optional timeout and message.
func decodeAssertion(n *yaml.Node) (schemas.Assertion, error) {
	if n.Kind != yaml.MappingNode {
		return schemas.Assertion{}, nodeError(n, "assertion must be a mapping with visible or hidden")
	}
	var f assertionFields
	if err := n.Decode(&f); err != nil {
		return schemas.Assertion{}, nodeError(n, "%v", err)
	}
	var (
		a   schemas.Assertion
		raw *yaml.Node
	)
	switch {
	case f.Visible.Kind != 0 && f.Hidden.Kind != 0:
		return a, nodeError(n, "assertion has both visible and hidden")
	case f.Visible.Kind != 0:
		raw, a.Visible = &f.Visible, true
	case f.Hidden.Kind != 0:
		raw = &f.Hidden
	default:
		return a, nodeError(n, "assertion needs visible or hidden")
	}
	loc, err := decodeLocator(raw)
	if err != nil {
		return a, err
	}
	a.Locator = loc
	a.Timeout = f.Timeout
	a.Message = f.Message
	return a, nil
}
