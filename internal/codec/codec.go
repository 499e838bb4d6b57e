// Package codec encodes typed messages into the opaque payloads carried by
// transport providers.
package codec

import (
	"fmt"
	"strings"
)

// Codec marshals typed messages. Implementations must be safe for concurrent
// use.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Default is the codec used when none is configured.
var Default = JSON()

// ByName returns the codec registered under name ("json" or "cbor").
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON(), nil
	case "cbor":
		return CBOR()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// MustByName is ByName for static initialization.
func MustByName(name string) Codec {
	c, err := ByName(name)
	if err != nil {
		panic(err)
	}
	return c
}
