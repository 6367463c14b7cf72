package schemas

import (
	"fmt"
	"strconv"
	"strings"
)

// -- Checkpoint Schemas --

// Keyword is the tagged variant naming which matcher a checkpoint requires.
type Keyword int

const (
	KeywordFuzzy Keyword = iota
	KeywordTextbox
	KeywordActivity
	KeywordClick
	KeywordType
	KeywordButton
	KeywordCheckInstall
	KeywordCheckUninstall
	KeywordImage
)

var keywordNames = [...]string{
	KeywordFuzzy:          "FUZZY",
	KeywordTextbox:        "TEXTBOX",
	KeywordActivity:       "ACTIVITY",
	KeywordClick:          "CLICK",
	KeywordType:           "TYPE",
	KeywordButton:         "BUTTON",
	KeywordCheckInstall:   "CHECK_INSTALL",
	KeywordCheckUninstall: "CHECK_UNINSTALL",
	KeywordImage:          "IMAGE",
}

// AllKeywords lists every keyword in declaration order.
func AllKeywords() []Keyword {
	out := make([]Keyword, len(keywordNames))
	for i := range keywordNames {
		out[i] = Keyword(i)
	}
	return out
}

func (k Keyword) String() string {
	if k < 0 || int(k) >= len(keywordNames) {
		return fmt.Sprintf("Keyword(%d)", int(k))
	}
	return keywordNames[k]
}

// Token returns the lower-case spelling used in annotation artifacts.
func (k Keyword) Token() string {
	return strings.ToLower(k.String())
}

// MarshalText implements encoding.TextMarshaler.
func (k Keyword) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(keywordNames) {
		return nil, fmt.Errorf("unknown keyword %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Keyword) UnmarshalText(b []byte) error {
	parsed, err := ParseKeyword(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKeyword resolves an annotation keyword. Matching is case-insensitive
// and the legacy spelling fuzzy_match maps to FUZZY.
func ParseKeyword(s string) (Keyword, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "FUZZY_MATCH" {
		return KeywordFuzzy, nil
	}
	for i, name := range keywordNames {
		if name == upper {
			return Keyword(i), nil
		}
	}
	return 0, fmt.Errorf("unknown checkpoint keyword %q", s)
}

// Target sentinels for node-addressed keywords.
const (
	WholeScreenID = -1
	SystemStateID = -2
)

// TargetKind describes how a checkpoint payload is interpreted.
type TargetKind int

const (
	TargetNode TargetKind = iota
	TargetWholeScreen
	TargetSystemState
	TargetToggle
	TargetApp
	TargetPath
	TargetText
)

// Target is the keyword-dependent checkpoint payload.
type Target struct {
	Kind   TargetKind `json:"kind"`
	NodeID int        `json:"node_id"`
	// On is the requested toggle state for TargetToggle.
	On bool `json:"on,omitempty"`
	// Text holds the app name, path expression or typed text.
	Text string `json:"text,omitempty"`
}

// Payload renders the target the way it appears between the angle brackets
// of an annotation token.
func (t Target) Payload() string {
	switch t.Kind {
	case TargetWholeScreen:
		return strconv.Itoa(WholeScreenID)
	case TargetSystemState:
		return strconv.Itoa(SystemStateID)
	case TargetToggle:
		state := "off"
		if t.On {
			state = "on"
		}
		return fmt.Sprintf("%d:%s", t.NodeID, state)
	case TargetApp, TargetPath, TargetText:
		return t.Text
	default:
		return strconv.Itoa(t.NodeID)
	}
}

// Checkpoint is one required condition attached to a ground-truth state.
type Checkpoint struct {
	Keyword Keyword `json:"keyword"`
	Target  Target  `json:"target"`
	// StateIndex is the index of the ground-truth state carrying the checkpoint.
	StateIndex int `json:"state_index"`
}

// Token renders the checkpoint in annotation syntax, e.g. textbox<10>.
func (c Checkpoint) Token() string {
	return fmt.Sprintf("%s<%s>", c.Keyword.Token(), c.Target.Payload())
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%d:%s", c.StateIndex, c.Token())
}
