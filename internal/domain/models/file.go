package models

import (
	"repo-source-web/pkg/types"
)

// TreeNode alias to unified model
type TreeNode = types.TreeNode

// NodeKind alias to unified model
type NodeKind = types.NodeKind

const (
	KindDirectory = types.KindDirectory
	KindFile      = types.KindFile
)

// NewRoot alias to unified function
func NewRoot() *TreeNode {
	return types.NewRoot()
}

var (
	ErrNameTaken    = types.ErrNameTaken
	ErrKindMismatch = types.ErrKindMismatch
	ErrNotDirectory = types.ErrNotDirectory
	ErrNoSuchNode   = types.ErrNoSuchNode
)
