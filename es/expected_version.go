package es

import "fmt"

type expectation uint8

const (
	expectExact expectation = iota
	expectAny
	expectNoStream
)

// ExpectedVersion is the stream version a writer believes is current.
// Append rejects the write when the stream's head does not satisfy it.
// The zero value is Exact(0).
type ExpectedVersion struct {
	version int64
	kind    expectation
}

// Any skips the version check. Only safe for streams with a single writer.
func Any() ExpectedVersion {
	return ExpectedVersion{kind: expectAny}
}

// NoStream requires that the stream has no events yet.
// For append purposes it is equivalent to Exact(0).
func NoStream() ExpectedVersion {
	return ExpectedVersion{kind: expectNoStream}
}

// Exact requires the stream head to be exactly version; Exact(0) means empty.
// A negative version is a programming error and panics.
func Exact(version int64) ExpectedVersion {
	if version < 0 {
		panic(fmt.Sprintf("exact version must be non-negative, got %d", version))
	}
	return ExpectedVersion{version: version, kind: expectExact}
}

// IsAny reports whether the check is skipped.
func (ev ExpectedVersion) IsAny() bool { return ev.kind == expectAny }

// IsNoStream reports whether an empty stream is required.
func (ev ExpectedVersion) IsNoStream() bool { return ev.kind == expectNoStream }

// IsExact reports whether a specific head version is required.
func (ev ExpectedVersion) IsExact() bool { return ev.kind == expectExact }

// Value is the required head for Exact and 0 otherwise.
func (ev ExpectedVersion) Value() int64 { return ev.version }

// Matches reports whether a stream whose head is current satisfies ev.
func (ev ExpectedVersion) Matches(current int64) bool {
	switch ev.kind {
	case expectAny:
		return true
	case expectNoStream:
		return current == 0
	default:
		return current == ev.version
	}
}

func (ev ExpectedVersion) String() string {
	switch ev.kind {
	case expectAny:
		return "Any"
	case expectNoStream:
		return "NoStream"
	default:
		return fmt.Sprintf("Exact(%d)", ev.version)
	}
}
