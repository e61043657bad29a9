// Package protocol selects the wire protocol used to reach a backend for a
// given request path.
package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Protocol is a backend wire protocol.
type Protocol int

const (
	// REST is plain HTTP with JSON payloads. It is the fallback protocol.
	REST Protocol = iota
	// GraphQL is a POST to the backend's /graphql endpoint.
	GraphQL
	// GRPC is a unary gRPC call over a pooled connection.
	GRPC
)

// String returns the canonical protocol name.
func (p Protocol) String() string {
	switch p {
	case GraphQL:
		return "GraphQL"
	case GRPC:
		return "gRPC"
	default:
		return "REST"
	}
}

// Parse converts a configured protocol name, case-insensitively.
func Parse(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rest":
		return REST, nil
	case "graphql":
		return GraphQL, nil
	case "grpc":
		return GRPC, nil
	default:
		return REST, fmt.Errorf("unknown protocol %q", name)
	}
}

// Set is an immutable set of protocols.
type Set map[Protocol]struct{}

// NewSet builds a set from protocols.
func NewSet(protocols ...Protocol) Set {
	s := make(Set, len(protocols))
	for _, p := range protocols {
		s[p] = struct{}{}
	}
	return s
}

// ParseSet builds a set from configured names.
func ParseSet(names []string) (Set, error) {
	s := make(Set, len(names))
	for _, name := range names {
		p, err := Parse(name)
		if err != nil {
			return nil, err
		}
		s[p] = struct{}{}
	}
	return s, nil
}

// Has reports whether p is in the set.
func (s Set) Has(p Protocol) bool {
	_, ok := s[p]
	return ok
}

// List returns the members in a stable order.
func (s Set) List() []Protocol {
	out := make([]Protocol, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Supporter is anything that advertises a protocol set.
type Supporter interface {
	Supports(p Protocol) bool
}

const (
	graphQLSegment = "/graphql"
	grpcPrefix     = "/api/"
)

// Resolve picks the protocol for path. The first matching rule wins:
// a "/graphql" segment on a GraphQL backend, then an "/api/" prefix on a
// gRPC backend, then REST regardless of what the backend advertises.
func Resolve(def Supporter, path string) Protocol {
	if def.Supports(GraphQL) && strings.Contains(strings.ToLower(path), graphQLSegment) {
		return GraphQL
	}
	if def.Supports(GRPC) && strings.HasPrefix(path, grpcPrefix) {
		return GRPC
	}
	return REST
}
