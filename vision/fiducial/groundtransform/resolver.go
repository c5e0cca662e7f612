// Package groundtransform estimates the affine transform from a camera's frame to the shared
// ground frame using markers at known ground coordinates.
package groundtransform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// A Resolver supplies the ground coordinate of a marker. ok is false when the coordinate is not
// known.
type Resolver interface {
	Resolve(ctx context.Context, id int) (coord r3.Vector, ok bool, err error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, id int) (r3.Vector, bool, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, id int) (r3.Vector, bool, error) {
	return f(ctx, id)
}

// MapResolver resolves coordinates from a fixed table.
type MapResolver map[int]r3.Vector

// Resolve looks id up in the table.
func (m MapResolver) Resolve(ctx context.Context, id int) (r3.Vector, bool, error) {
	coord, ok := m[id]
	return coord, ok, nil
}

// ChainResolver asks each resolver in turn until one knows the coordinate.
type ChainResolver []Resolver

// Resolve returns the first coordinate found.
func (c ChainResolver) Resolve(ctx context.Context, id int) (r3.Vector, bool, error) {
	for _, r := range c {
		coord, ok, err := r.Resolve(ctx, id)
		if err != nil || ok {
			return coord, ok, err
		}
	}
	return r3.Vector{}, false, nil
}

// ConsoleResolver prompts an operator for coordinates. An empty answer or the end of input
// leaves the marker unresolved; malformed answers are asked again.
type ConsoleResolver struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

// NewConsoleResolver returns a resolver reading answers from in and writing prompts to out.
func NewConsoleResolver(in io.Reader, out io.Writer) *ConsoleResolver {
	return &ConsoleResolver{In: in, Out: out}
}

// Resolve prompts for the coordinate of id.
func (c *ConsoleResolver) Resolve(ctx context.Context, id int) (r3.Vector, bool, error) {
	if c.scanner == nil {
		c.scanner = bufio.NewScanner(c.In)
	}
	for {
		if err := ctx.Err(); err != nil {
			return r3.Vector{}, false, err
		}
		fmt.Fprintf(c.Out, "ground coordinates of marker %d as x, y, z (empty to skip): ", id)
		if !c.scanner.Scan() {
			return r3.Vector{}, false, c.scanner.Err()
		}
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			return r3.Vector{}, false, nil
		}
		coord, err := parseTriple(line)
		if err != nil {
			fmt.Fprintf(c.Out, "%v\n", err)
			continue
		}
		return coord, true, nil
	}
}

// parseTriple parses three numbers separated by commas and/or whitespace.
func parseTriple(s string) (r3.Vector, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 3 {
		return r3.Vector{}, errors.Errorf("expected 3 numbers, got %q", s)
	}
	var xyz [3]float64
	for i, f := range fields {
		v, err := cast.ToFloat64E(f)
		if err != nil {
			return r3.Vector{}, errors.Wrapf(err, "invalid coordinate %q", f)
		}
		xyz[i] = v
	}
	return r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}
