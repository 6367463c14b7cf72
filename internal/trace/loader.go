// internal/trace/loader.go
package trace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/checkpoint"
)

const (
	eventLogFile      = "eventStructs.txt"
	instructionFile   = "instruction.txt"
	capturedDataDir   = "captured_data"
	sharedInstalledFn = "installed_apps.txt"
)

// Loader builds immutable traces from episode directories.
type Loader struct {
	logger    *zap.Logger
	extractor *checkpoint.Extractor
	eventLog  ActionLogParser
	artifacts ActionLogParser
}

// Option configures a Loader.
type Option func(*Loader)

// WithEventLogParser replaces the parser used for ground-truth eventStructs.txt logs.
func WithEventLogParser(p ActionLogParser) Option {
	return func(l *Loader) { l.eventLog = p }
}

// WithArtifactParser replaces the parser used for per-step action artifacts.
func WithArtifactParser(p ActionLogParser) Option {
	return func(l *Loader) { l.artifacts = p }
}

// NewLoader creates a Loader with the default artifact dialects.
func NewLoader(logger *zap.Logger, extractor *checkpoint.Extractor, opts ...Option) *Loader {
	l := &Loader{
		logger:    logger.Named("trace"),
		extractor: extractor,
		eventLog:  EventLogParser{},
		artifacts: ArtifactParser{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadGroundTruth reads an annotated ground-truth episode directory: one
// N.png/N.xml/N.json/N.activity group per step, annotation files, and either
// per-step N.action artifacts or a single eventStructs.txt log.
func (l *Loader) LoadGroundTruth(ctx context.Context, dir, episode string) (*schemas.Trace, error) {
	indices, err := numberedFiles(dir, ".png", func(name string) bool { return !strings.Contains(name, "drawed") })
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: no screenshots in ground-truth directory %s", schemas.ErrTraceNotFound, dir)
	}
	if id := readInstructionEpisode(dir); id != "" && episode != "" && id != episode {
		l.logger.Warn("Ground-truth instruction names a different episode",
			zap.String("episode", episode), zap.String("instruction_episode", id))
	}

	var logged []schemas.Action
	if f, err := os.Open(filepath.Join(dir, eventLogFile)); err == nil {
		logged, err = l.eventLog.ParseActions(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("ground truth %s: %w", episode, err)
		}
	}

	tr := &schemas.Trace{Episode: episode, Kind: schemas.TraceGroundTruth, Root: dir}
	for pos, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := strconv.Itoa(idx)
		state := schemas.UIState{
			Index:         idx,
			ScreenshotRef: filepath.Join(dir, base+".png"),
			HierarchyRef:  filepath.Join(dir, base+".xml"),
			SidecarRef:    filepath.Join(dir, base+".json"),
		}
		if state.Activity, err = readActivity(filepath.Join(dir, base+".activity")); err != nil {
			return nil, err
		}
		if logged != nil {
			if pos < len(logged) {
				a := logged[pos]
				state.Action = &a
			}
		} else if state.Action, err = l.readAction(filepath.Join(dir, base+".action")); err != nil {
			return nil, err
		}
		tr.States = append(tr.States, state)
	}
	if logged != nil && len(logged) != len(indices) {
		l.logger.Debug("Event log length differs from step count",
			zap.String("episode", episode), zap.Int("actions", len(logged)), zap.Int("steps", len(indices)))
	}

	anns, err := l.extractor.ExtractDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ground truth %s: %w", episode, err)
	}
	byIndex := make(map[int]int, len(tr.States))
	for i, s := range tr.States {
		byIndex[s.Index] = i
	}
	for _, ann := range anns {
		pos, ok := byIndex[ann.StateIndex]
		if !ok {
			return nil, fmt.Errorf("%w: annotation %s refers to step %d which has no screenshot",
				schemas.ErrCorruptFixture, ann.Source, ann.StateIndex)
		}
		tr.States[pos].Checkpoints = ann.Checkpoints
	}

	if err := tr.Validate(); err != nil {
		return nil, err
	}
	l.logger.Debug("Loaded ground-truth trace",
		zap.String("episode", episode), zap.Int("states", len(tr.States)), zap.Int("essential", len(anns)))
	return tr, nil
}

// LoadExecution reads an agent execution directory laid out as
// screenshot/N.png, xml/N.xml (+N.json), activity/N.activity and
// action/N.action, optionally nested under captured_data/.
func (l *Loader) LoadExecution(ctx context.Context, dir, episode string) (*schemas.Trace, error) {
	root := dir
	if fi, err := os.Stat(filepath.Join(dir, capturedDataDir)); err == nil && fi.IsDir() {
		root = filepath.Join(dir, capturedDataDir)
	}

	indices, err := numberedFiles(filepath.Join(root, "screenshot"), ".png", nil)
	if errors.Is(err, schemas.ErrTraceNotFound) {
		indices, err = numberedFiles(filepath.Join(root, "xml"), ".xml", nil)
	}
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: execution directory %s has no recorded steps", schemas.ErrTraceNotFound, root)
	}

	sharedApps := ""
	if _, err := os.Stat(filepath.Join(root, "installed_apps", sharedInstalledFn)); err == nil {
		sharedApps = filepath.Join(root, "installed_apps", sharedInstalledFn)
	}

	tr := &schemas.Trace{Episode: episode, Kind: schemas.TraceExecution, Root: root}
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := strconv.Itoa(idx)
		state := schemas.UIState{
			Index:            idx,
			ScreenshotRef:    filepath.Join(root, "screenshot", base+".png"),
			HierarchyRef:     filepath.Join(root, "xml", base+".xml"),
			SidecarRef:       filepath.Join(root, "xml", base+".json"),
			InstalledAppsRef: sharedApps,
		}
		perStep := filepath.Join(root, "installed_apps", base+".txt")
		if _, err := os.Stat(perStep); err == nil {
			state.InstalledAppsRef = perStep
		}
		if state.Activity, err = readActivity(filepath.Join(root, "activity", base+".activity")); err != nil {
			return nil, err
		}
		if state.Action, err = l.readAction(filepath.Join(root, "action", base+".action")); err != nil {
			return nil, err
		}
		tr.States = append(tr.States, state)
	}

	l.logger.Debug("Loaded execution trace", zap.String("episode", episode), zap.Int("states", len(tr.States)))
	return tr, nil
}

func (l *Loader) readAction(path string) (*schemas.Action, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open action artifact %s: %w", path, err)
	}
	defer f.Close()

	actions, err := l.artifacts.ParseActions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(actions) == 0 {
		return nil, nil
	}
	return &actions[0], nil
}

// readActivity returns NullActivity when the artifact was never captured.
func readActivity(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return schemas.NullActivity, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read activity artifact %s: %w", path, err)
	}
	act, err := ExtractActivity(string(b))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return act, nil
}

func readInstructionEpisode(dir string) string {
	b, err := os.ReadFile(filepath.Join(dir, instructionFile))
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(first)
}

// numberedFiles returns the sorted numeric stems of files named N<ext>.
func numberedFiles(dir, ext string, keep func(string) bool) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", schemas.ErrTraceNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		if keep != nil && !keep(name) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}
