package services

import (
	"iter"
	"strings"

	"repo-source-web/internal/domain/models"
)

// RootID identifies the synthetic root node.
const RootID = "root"

// NodeID derives a node's identity from its path in the tree, so identities
// survive re-renders and do not depend on archive ordering.
func NodeID(path string) string {
	if path == "" {
		return RootID
	}
	return RootID + "/" + path
}

// PathFromID reverses NodeID.
func PathFromID(id string) (string, bool) {
	if id == RootID {
		return "", true
	}
	path, ok := strings.CutPrefix(id, RootID+"/")
	if !ok || path == "" {
		return "", false
	}
	return path, true
}

// DefaultExpanded returns the expansion set of a freshly loaded tree: only
// the root is open.
func DefaultExpanded() map[string]bool {
	return map[string]bool{RootID: true}
}

// RenderNode is one visible row of the tree view.
type RenderNode struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Path     string `json:"path"`
	Depth    int    `json:"depth"`
	IsDir    bool   `json:"is_dir"`
	Expanded bool   `json:"expanded,omitempty"`
	Active   bool   `json:"active,omitempty"`
}

// RenderOptions carries the view state applied while rendering.
type RenderOptions struct {
	RootLabel  string
	Expanded   map[string]bool
	ActivePath string
}

// Render lazily yields the visible nodes of root in pre-order. Children of
// collapsed directories are not visited.
func Render(root *models.TreeNode, opts RenderOptions) iter.Seq[RenderNode] {
	return func(yield func(RenderNode) bool) {
		if root == nil {
			return
		}
		renderNode(root, "", 0, opts, yield)
	}
}

func renderNode(n *models.TreeNode, path string, depth int, opts RenderOptions, yield func(RenderNode) bool) bool {
	id := NodeID(path)
	rn := RenderNode{
		ID:    id,
		Label: n.Label(),
		Path:  path,
		Depth: depth,
		IsDir: n.IsDir(),
	}
	if path == "" {
		rn.Label = opts.RootLabel
	}
	if rn.IsDir {
		rn.Expanded = opts.Expanded[id]
	} else {
		rn.Active = path == opts.ActivePath
	}

	if !yield(rn) {
		return false
	}
	if !rn.Expanded {
		return true
	}
	for _, child := range n.Children() {
		if !renderNode(child, path+child.Name, depth+1, opts, yield) {
			return false
		}
	}
	return true
}
