package groundtransform

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// NoPromptFlag ends a ground coordinate string whose unresolved markers are skipped silently.
const NoPromptFlag = "i"

// GroundCoordinates is a parsed ground coordinate string.
type GroundCoordinates struct {
	Known MapResolver
	// Interactive is set when unresolved markers should be asked of an operator.
	Interactive bool
}

// ParseGroundCoordinates parses "id:(x,y,z);id:(x,y,z);...;flag". The flag is NoPromptFlag to
// skip unresolved markers, anything else (usually "u") to prompt for them.
func ParseGroundCoordinates(s string) (GroundCoordinates, error) {
	entries := strings.Split(strings.TrimSpace(s), ";")
	flag := strings.TrimSpace(entries[len(entries)-1])
	if flag == "" {
		return GroundCoordinates{}, errors.Errorf("ground coordinates %q must end with a flag", s)
	}
	coords := GroundCoordinates{Known: MapResolver{}, Interactive: flag != NoPromptFlag}
	for _, entry := range entries[:len(entries)-1] {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idStr, rest, found := strings.Cut(entry, ":")
		if !found {
			return GroundCoordinates{}, errors.Errorf("ground coordinate %q has no marker id", entry)
		}
		id, err := cast.ToIntE(strings.TrimSpace(idStr))
		if err != nil {
			return GroundCoordinates{}, errors.Wrapf(err, "invalid marker id in %q", entry)
		}
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return GroundCoordinates{}, errors.Errorf("ground coordinate %q must be of the form id:(x,y,z)", entry)
		}
		coord, err := parseTriple(rest[1 : len(rest)-1])
		if err != nil {
			return GroundCoordinates{}, errors.Wrapf(err, "marker %d", id)
		}
		if _, dup := coords.Known[id]; dup {
			return GroundCoordinates{}, errors.Errorf("marker %d is given twice", id)
		}
		coords.Known[id] = coord
	}
	return coords, nil
}

// Resolver returns the resolver for these coordinates, falling back to prompt when interactive.
func (g GroundCoordinates) Resolver(prompt Resolver) Resolver {
	if !g.Interactive || prompt == nil {
		return g.Known
	}
	return ChainResolver{g.Known, prompt}
}

// String formats the coordinates back into the accepted syntax.
func (g GroundCoordinates) String() string {
	var b strings.Builder
	ids := lo.Keys(g.Known)
	sort.Ints(ids)
	for _, id := range ids {
		c := g.Known[id]
		b.WriteString(cast.ToString(id))
		b.WriteString(":(")
		b.WriteString(strings.Join([]string{cast.ToString(c.X), cast.ToString(c.Y), cast.ToString(c.Z)}, ","))
		b.WriteString(");")
	}
	if g.Interactive {
		b.WriteString("u")
	} else {
		b.WriteString(NoPromptFlag)
	}
	return b.String()
}
