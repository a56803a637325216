package ident

import (
	"crypto/rand"
	"time"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// DefaultLength is the length of ids produced by New.
	DefaultLength = 16

	referenceLayout = "20060102150405"

	// Largest multiple of len(alphabet) that fits in a byte; bytes at or
	// above it are discarded to keep the distribution uniform.
	maxUnbiased = 256 - 256%len(alphabet)
)

// Generator produces opaque payment ids and human readable references.
type Generator struct {
	length int
}

func New() *Generator {
	return &Generator{length: DefaultLength}
}

// ID returns a random alphanumeric string of the generator's length.
func (g *Generator) ID() string {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)

	for len(out) < g.length {
		// crypto/rand.Read never returns an error on supported platforms.
		_, _ = rand.Read(buf)

		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}

			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == g.length {
				break
			}
		}
	}

	return string(out)
}

// Reference returns "<prefix>-YYYYMMDDHHMMSS" for t in UTC.
func (g *Generator) Reference(prefix string, t time.Time) string {
	stamp := t.UTC().Format(referenceLayout)
	if prefix == "" {
		return stamp
	}

	return prefix + "-" + stamp
}
