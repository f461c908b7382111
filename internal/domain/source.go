package domain

import "fmt"

type SourceType string

const (
	SourceNone       SourceType = "none"
	SourceFile       SourceType = "file"
	SourceMicrophone SourceType = "microphone"
	SourceSystem     SourceType = "system"
)

// AudioSource identifies what the host is currently streaming. For files the
// ID is an opaque label, usually the file name.
type AudioSource struct {
	Type SourceType
	ID   string
}

func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case "", SourceNone:
		return SourceNone, nil
	case SourceFile, SourceMicrophone, SourceSystem:
		return SourceType(s), nil
	}
	return "", fmt.Errorf("%w: unknown audio source type %q", ErrInvalidRequest, s)
}
