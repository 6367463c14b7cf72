// internal/checkpoint/parser.go
package checkpoint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

var (
	tokenPattern  = regexp.MustCompile(`^(?P<keyword>\w+)<(?P<payload>.+)>$`)
	togglePattern = regexp.MustCompile(`(?i)^(\d+):(on|off)$`)
)

// ParseError describes a malformed annotation token. It unwraps to
// schemas.ErrCorruptFixture so callers can tell fixture corruption apart
// from a genuine non-match.
type ParseError struct {
	Source string
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("malformed checkpoint token %q in %s: %s", e.Token, e.Source, e.Reason)
	}
	return fmt.Sprintf("malformed checkpoint token %q: %s", e.Token, e.Reason)
}

func (e *ParseError) Unwrap() error { return schemas.ErrCorruptFixture }

// ParseAnnotation parses the pipe-delimited content of one annotation
// artifact into the checkpoints of the ground-truth state at stateIndex.
// Empty segments between pipes are ignored; any other malformed token fails
// the whole artifact.
func ParseAnnotation(content string, stateIndex int) ([]schemas.Checkpoint, error) {
	var out []schemas.Checkpoint
	for _, raw := range strings.Split(content, "|") {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		cp, err := ParseToken(tok, stateIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := validateState(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseToken parses a single keyword<payload> token.
func ParseToken(token string, stateIndex int) (schemas.Checkpoint, error) {
	m := tokenPattern.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return schemas.Checkpoint{}, &ParseError{Token: token, Reason: "expected keyword<payload>"}
	}
	kw, err := schemas.ParseKeyword(m[1])
	if err != nil {
		return schemas.Checkpoint{}, &ParseError{Token: token, Reason: err.Error()}
	}
	target, err := parseTarget(kw, m[2])
	if err != nil {
		return schemas.Checkpoint{}, &ParseError{Token: token, Reason: err.Error()}
	}
	return schemas.Checkpoint{Keyword: kw, Target: target, StateIndex: stateIndex}, nil
}

func parseTarget(kw schemas.Keyword, payload string) (schemas.Target, error) {
	payload = strings.TrimSpace(payload)
	switch kw {
	case schemas.KeywordFuzzy:
		id, err := strconv.Atoi(payload)
		if err != nil {
			return schemas.Target{}, fmt.Errorf("fuzzy target must be an integer")
		}
		switch {
		case id == schemas.SystemStateID:
			return schemas.Target{Kind: schemas.TargetSystemState, NodeID: id}, nil
		case id == schemas.WholeScreenID:
			return schemas.Target{Kind: schemas.TargetWholeScreen, NodeID: id}, nil
		case id >= 0:
			return schemas.Target{Kind: schemas.TargetNode, NodeID: id}, nil
		}
		return schemas.Target{}, fmt.Errorf("fuzzy target %d out of range", id)

	case schemas.KeywordTextbox, schemas.KeywordImage:
		return nodeTarget(kw, payload)

	case schemas.KeywordActivity:
		// The payload is conventionally -1; activity checkpoints compare the
		// state's foreground window, not a node.
		id, err := strconv.Atoi(payload)
		if err != nil {
			return schemas.Target{}, fmt.Errorf("activity target must be an integer")
		}
		if id < 0 {
			return schemas.Target{Kind: schemas.TargetWholeScreen, NodeID: schemas.WholeScreenID}, nil
		}
		return schemas.Target{Kind: schemas.TargetNode, NodeID: id}, nil

	case schemas.KeywordClick:
		if strings.HasPrefix(payload, "/") {
			return schemas.Target{Kind: schemas.TargetPath, NodeID: -1, Text: payload}, nil
		}
		return nodeTarget(kw, payload)

	case schemas.KeywordType:
		text := NormalizeTypedText(payload)
		if text == "" {
			return schemas.Target{}, fmt.Errorf("type target is empty")
		}
		return schemas.Target{Kind: schemas.TargetText, NodeID: -1, Text: text}, nil

	case schemas.KeywordButton:
		m := togglePattern.FindStringSubmatch(payload)
		if m == nil {
			return schemas.Target{}, fmt.Errorf("button target must be id:on or id:off")
		}
		id, _ := strconv.Atoi(m[1])
		return schemas.Target{Kind: schemas.TargetToggle, NodeID: id, On: strings.EqualFold(m[2], "on")}, nil

	case schemas.KeywordCheckInstall, schemas.KeywordCheckUninstall:
		if payload == "" {
			return schemas.Target{}, fmt.Errorf("%s target needs an app name", kw.Token())
		}
		return schemas.Target{Kind: schemas.TargetApp, NodeID: -1, Text: payload}, nil
	}
	return schemas.Target{}, fmt.Errorf("no payload rule for keyword %s", kw)
}

func nodeTarget(kw schemas.Keyword, payload string) (schemas.Target, error) {
	id, err := strconv.Atoi(payload)
	if err != nil {
		return schemas.Target{}, fmt.Errorf("%s target must be a node id", kw.Token())
	}
	if id < 0 {
		return schemas.Target{}, fmt.Errorf("%s target %d does not address a node", kw.Token(), id)
	}
	return schemas.Target{Kind: schemas.TargetNode, NodeID: id}, nil
}

// validateState enforces that the system-state sentinel only appears next to
// an install or uninstall checkpoint.
func validateState(cps []schemas.Checkpoint) error {
	hasSystem := false
	for _, cp := range cps {
		if cp.Keyword == schemas.KeywordCheckInstall || cp.Keyword == schemas.KeywordCheckUninstall {
			hasSystem = true
			break
		}
	}
	if hasSystem {
		return nil
	}
	for _, cp := range cps {
		if cp.Target.Kind == schemas.TargetSystemState {
			return &ParseError{Token: cp.Token(), Reason: "-2 target requires a check_install or check_uninstall checkpoint"}
		}
	}
	return nil
}

// NormalizeTypedText applies the single normalization used for typed text on
// both sides of a comparison.
func NormalizeTypedText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Serialize renders checkpoints back into annotation syntax.
func Serialize(cps []schemas.Checkpoint) string {
	tokens := make([]string, len(cps))
	for i, cp := range cps {
		tokens[i] = cp.Token()
	}
	return strings.Join(tokens, "|")
}
