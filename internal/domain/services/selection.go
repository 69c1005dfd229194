package services

import (
	"errors"
	"fmt"
	"maps"

	"repo-source-web/internal/domain/models"
)

// Phase is the lifecycle stage of a viewer session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseFailed
)

var phaseStrings = map[Phase]string{
	PhaseIdle:    "Idle",
	PhaseLoading: "Loading",
	PhaseReady:   "Ready",
	PhaseFailed:  "Failed",
}

func (p Phase) String() string {
	return phaseStrings[p]
}

var (
	ErrStaleGeneration = errors.New("result belongs to a superseded load")
	ErrNotReady        = errors.New("no archive is loaded")
	ErrNodeNotFound    = errors.New("node not found")
	ErrNotAFile        = errors.New("node is not a file")
	ErrNotADirectory   = errors.New("node is not a directory")
)

// State is the selection state of one session. Tree is never mutated once a
// load has succeeded; the Expanded map is replaced, not modified, on toggle.
type State struct {
	Phase         Phase
	Generation    uint64
	Tree          *models.TreeNode
	ActivePath    string
	ActiveContent string
	Expanded      map[string]bool
	Err           error
}

// IsLoading reports whether a decode is in flight.
func (s State) IsLoading() bool {
	return s.Phase == PhaseLoading
}

// Action is an input to Reduce.
type Action interface {
	isAction()
}

// LoadStarted discards the current tree and selection.
type LoadStarted struct {
	Generation uint64
}

// LoadSucceeded installs a built tree and pre-selects DefaultFile if present,
// either at the root or inside a single top-level wrapper directory.
type LoadSucceeded struct {
	Generation  uint64
	Tree        *models.TreeNode
	DefaultFile string
}

// LoadFailed records a build fault.
type LoadFailed struct {
	Generation uint64
	Err        error
}

// LeafActivated selects a file by path.
type LeafActivated struct {
	Path string
}

// NodeToggled expands or collapses a directory by node ID.
type NodeToggled struct {
	ID string
}

// Reset returns to Idle.
type Reset struct{}

func (LoadStarted) isAction()   {}
func (LoadSucceeded) isAction() {}
func (LoadFailed) isAction()    {}
func (LeafActivated) isAction() {}
func (NodeToggled) isAction()   {}
func (Reset) isAction()         {}

// Reduce applies a to s. On error the returned state is s unchanged.
func Reduce(s State, a Action) (State, error) {
	switch a := a.(type) {
	case LoadStarted:
		if a.Generation <= s.Generation {
			return s, ErrStaleGeneration
		}
		return State{
			Phase:      PhaseLoading,
			Generation: a.Generation,
			Expanded:   DefaultExpanded(),
		}, nil

	case LoadSucceeded:
		if a.Generation != s.Generation || s.Phase != PhaseLoading {
			return s, ErrStaleGeneration
		}
		next := s
		next.Phase = PhaseReady
		next.Tree = a.Tree
		if path, node, ok := findDefaultFile(a.Tree, a.DefaultFile); ok {
			next.ActivePath = path
			next.ActiveContent = node.Content
		}
		return next, nil

	case LoadFailed:
		if a.Generation != s.Generation || s.Phase != PhaseLoading {
			return s, ErrStaleGeneration
		}
		next := s
		next.Phase = PhaseFailed
		next.Err = a.Err
		return next, nil

	case LeafActivated:
		if s.Phase != PhaseReady {
			return s, ErrNotReady
		}
		node, err := s.Tree.Find(a.Path)
		if err != nil {
			return s, fmt.Errorf("%w: %s", ErrNodeNotFound, a.Path)
		}
		if node.IsDir() {
			return s, fmt.Errorf("%w: %s", ErrNotAFile, a.Path)
		}
		next := s
		next.ActivePath = a.Path
		next.ActiveContent = node.Content
		return next, nil

	case NodeToggled:
		if s.Phase != PhaseReady {
			return s, ErrNotReady
		}
		path, ok := PathFromID(a.ID)
		if !ok {
			return s, fmt.Errorf("%w: %s", ErrNodeNotFound, a.ID)
		}
		node, err := s.Tree.Find(path)
		if err != nil {
			return s, fmt.Errorf("%w: %s", ErrNodeNotFound, a.ID)
		}
		if !node.IsDir() {
			return s, fmt.Errorf("%w: %s", ErrNotADirectory, a.ID)
		}
		next := s
		next.Expanded = maps.Clone(s.Expanded)
		if next.Expanded == nil {
			next.Expanded = make(map[string]bool)
		}
		next.Expanded[a.ID] = !s.Expanded[a.ID]
		return next, nil

	case Reset:
		return State{Generation: s.Generation}, nil
	}

	return s, fmt.Errorf("unknown action %T", a)
}

// findDefaultFile looks up name at the root, then under the root's only
// child when that child is a directory (GitHub snapshots wrap everything in
// "<owner>-<repo>-<sha>/").
func findDefaultFile(tree *models.TreeNode, name string) (string, *models.TreeNode, bool) {
	if tree == nil || name == "" {
		return "", nil, false
	}
	if node, err := tree.Find(name); err == nil && !node.IsDir() {
		return name, node, true
	}
	if tree.Len() != 1 {
		return "", nil, false
	}
	wrapper := tree.Children()[0]
	if !wrapper.IsDir() {
		return "", nil, false
	}
	path := wrapper.Name + name
	if node, err := tree.Find(path); err == nil && !node.IsDir() {
		return path, node, true
	}
	return "", nil, false
}
