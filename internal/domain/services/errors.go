package services

import (
	"errors"
	"fmt"
)

// FaultKind classifies why a build failed.
type FaultKind int

const (
	DecodeFault FaultKind = iota + 1
	StructuralFault
	Collision
)

var faultKindStrings = map[FaultKind]string{
	DecodeFault:     "DecodeFault",
	StructuralFault: "StructuralFault",
	Collision:       "Collision",
}

// String returns the kind's identifier as used in API payloads and metric
// labels.
func (k FaultKind) String() string {
	if s, ok := faultKindStrings[k]; ok {
		return s
	}
	return "UnknownFault"
}

// Sentinels for errors.Is against a *BuildError of the matching kind.
var (
	ErrDecodeFault     = errors.New("decode fault")
	ErrStructuralFault = errors.New("structural fault")
	ErrCollision       = errors.New("collision")
)

func (k FaultKind) sentinel() error {
	switch k {
	case DecodeFault:
		return ErrDecodeFault
	case StructuralFault:
		return ErrStructuralFault
	case Collision:
		return ErrCollision
	}
	return nil
}

func (k FaultKind) message() string {
	if err := k.sentinel(); err != nil {
		return err.Error()
	}
	return "unknown fault"
}

// BuildError fails a whole build. Path is the raw archive path involved, if
// any.
type BuildError struct {
	Kind FaultKind
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind.message(), e.Err)
	}
	return fmt.Sprintf("%s at %q: %v", e.Kind.message(), e.Path, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func (e *BuildError) Is(target error) bool {
	sentinel := e.Kind.sentinel()
	return sentinel != nil && target == sentinel
}
