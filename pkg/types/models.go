package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// DirMarker is appended to directory names so a directory never shares a key
// with a same-named file in its parent.
const DirMarker = "/"

// NodeKind distinguishes directories from files.
type NodeKind int

const (
	KindDirectory NodeKind = iota
	KindFile
)

func (k NodeKind) String() string {
	if k == KindFile {
		return "file"
	}
	return "directory"
}

var (
	// ErrNameTaken is returned when a child with the same name and kind
	// already exists.
	ErrNameTaken = errors.New("name already taken")
	// ErrKindMismatch is returned when a file and a directory would share a
	// name within the same parent.
	ErrKindMismatch = errors.New("file and directory share a name")
	// ErrNotDirectory is returned when descending through a file.
	ErrNotDirectory = errors.New("not a directory")
	// ErrNoSuchNode is returned when a path segment does not exist.
	ErrNoSuchNode = errors.New("no such node")
)

// TreeNode represents a node in the file tree. The kind is fixed when the
// node is created.
type TreeNode struct {
	Name    string
	Kind    NodeKind
	Content string

	children map[string]*TreeNode
	order    []string
}

// NewRoot creates the synthetic directory standing for the archive itself.
func NewRoot() *TreeNode {
	return NewDirectory("")
}

// NewDirectory creates an empty directory. name is the bare segment; the
// directory marker is appended unless name is empty.
func NewDirectory(name string) *TreeNode {
	if name != "" {
		name += DirMarker
	}
	return &TreeNode{
		Name:     name,
		Kind:     KindDirectory,
		children: make(map[string]*TreeNode),
	}
}

// NewFile creates a file leaf.
func NewFile(name, content string) *TreeNode {
	return &TreeNode{Name: name, Kind: KindFile, Content: content}
}

// IsDir reports whether n is a directory.
func (n *TreeNode) IsDir() bool {
	return n.Kind == KindDirectory
}

// Label returns the name without the directory marker.
func (n *TreeNode) Label() string {
	return strings.TrimSuffix(n.Name, DirMarker)
}

// Child looks up a direct child by its full name (marker included for
// directories).
func (n *TreeNode) Child(name string) (*TreeNode, bool) {
	child, ok := n.children[name]
	return child, ok
}

// Children returns the direct children in insertion order.
func (n *TreeNode) Children() []*TreeNode {
	children := make([]*TreeNode, 0, len(n.order))
	for _, name := range n.order {
		children = append(children, n.children[name])
	}
	return children
}

// Len returns the number of direct children.
func (n *TreeNode) Len() int {
	return len(n.order)
}

func (n *TreeNode) attach(child *TreeNode) {
	n.children[child.Name] = child
	n.order = append(n.order, child.Name)
}

// AddDirectory creates the directory name (bare segment) under n. It fails if
// the directory already exists or a file of the same name is present.
func (n *TreeNode) AddDirectory(name string) (*TreeNode, error) {
	if !n.IsDir() {
		return nil, ErrNotDirectory
	}
	if _, ok := n.children[name+DirMarker]; ok {
		return nil, ErrNameTaken
	}
	if _, ok := n.children[name]; ok {
		return nil, ErrKindMismatch
	}
	dir := NewDirectory(name)
	n.attach(dir)
	return dir, nil
}

// GetOrCreateChild returns the directory name (bare segment) under n,
// creating it when absent. A file of the same name is a kind mismatch.
func (n *TreeNode) GetOrCreateChild(name string) (*TreeNode, error) {
	if dir, ok := n.children[name+DirMarker]; ok {
		return dir, nil
	}
	return n.AddDirectory(name)
}

// InsertLeaf attaches a file under n.
func (n *TreeNode) InsertLeaf(name, content string) (*TreeNode, error) {
	if !n.IsDir() {
		return nil, ErrNotDirectory
	}
	if _, ok := n.children[name]; ok {
		return nil, ErrNameTaken
	}
	if _, ok := n.children[name+DirMarker]; ok {
		return nil, ErrKindMismatch
	}
	file := NewFile(name, content)
	n.attach(file)
	return file, nil
}

// Descend walks the directory chain named by segments (bare names) and
// returns the last directory. Every directory must already exist.
func (n *TreeNode) Descend(segments []string) (*TreeNode, error) {
	current := n
	for _, seg := range segments {
		next, ok := current.children[seg+DirMarker]
		if !ok {
			if _, isFile := current.children[seg]; isFile {
				return nil, ErrNotDirectory
			}
			return nil, ErrNoSuchNode
		}
		current = next
	}
	return current, nil
}

// Find resolves a path as produced by Walk: directories end with the marker,
// files do not, and the empty path is n itself.
func (n *TreeNode) Find(path string) (*TreeNode, error) {
	if path == "" {
		return n, nil
	}
	isDir := strings.HasSuffix(path, DirMarker)
	segments := strings.Split(strings.TrimSuffix(path, DirMarker), "/")
	last := segments[len(segments)-1]
	parent, err := n.Descend(segments[:len(segments)-1])
	if err != nil {
		return nil, err
	}
	if isDir {
		last += DirMarker
	}
	node, ok := parent.children[last]
	if !ok {
		return nil, ErrNoSuchNode
	}
	return node, nil
}

// Walk visits n and its descendants in pre-order, children in insertion
// order. path is the slash-joined path relative to n; directory paths keep
// the trailing marker. Returning false from fn skips the node's children.
func (n *TreeNode) Walk(fn func(path string, depth int, node *TreeNode) bool) {
	n.walk("", 0, fn)
}

func (n *TreeNode) walk(path string, depth int, fn func(string, int, *TreeNode) bool) {
	if !fn(path, depth, n) || !n.IsDir() {
		return
	}
	for _, name := range n.order {
		n.children[name].walk(path+name, depth+1, fn)
	}
}

// Leaves returns every file path under n mapped to its content.
func (n *TreeNode) Leaves() map[string]string {
	leaves := make(map[string]string)
	n.Walk(func(path string, _ int, node *TreeNode) bool {
		if !node.IsDir() {
			leaves[path] = node.Content
		}
		return true
	})
	return leaves
}

// Print recursively prints the file tree
func (n *TreeNode) Print(buffer *bytes.Buffer, prefix string, isLast bool) {
	// Print current node
	if n.Name != "" {
		buffer.WriteString(prefix)
		if isLast {
			buffer.WriteString("└── ")
			prefix += "    "
		} else {
			buffer.WriteString("├── ")
			prefix += "│   "
		}
		buffer.WriteString(n.Name + "\n")
	}

	// Directories first, then sort by name
	children := n.Children()
	sort.SliceStable(children, func(i, j int) bool {
		if children[i].IsDir() != children[j].IsDir() {
			return children[i].IsDir()
		}
		return children[i].Name < children[j].Name
	})

	for i, child := range children {
		child.Print(buffer, prefix, i == len(children)-1)
	}
}

type jsonNode struct {
	Name     string      `json:"name"`
	IsDir    bool        `json:"is_dir"`
	Content  string      `json:"content,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// MarshalJSON encodes directories with their children as an ordered list.
func (n *TreeNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonNode{
		Name:     n.Name,
		IsDir:    n.IsDir(),
		Content:  n.Content,
		Children: n.Children(),
	})
}
