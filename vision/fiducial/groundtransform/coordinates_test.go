package groundtransform

import (
	"context"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestParseGroundCoordinates(t *testing.T) {
	coords, err := ParseGroundCoordinates("1:(0,0,0);2:(1.5, 0, 0);17:(0,-2,0.25);i")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, coords.Interactive, test.ShouldBeFalse)
	test.That(t, coords.Known, test.ShouldResemble, MapResolver{
		1:  {},
		2:  {X: 1.5},
		17: {Y: -2, Z: 0.25},
	})
	test.That(t, coords.String(), test.ShouldEqual, "1:(0,0,0);2:(1.5,0,0);17:(0,-2,0.25);i")

	coords, err = ParseGroundCoordinates("3:(1,2,3);u")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, coords.Interactive, test.ShouldBeTrue)

	coords, err = ParseGroundCoordinates("u")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, coords.Interactive, test.ShouldBeTrue)
	test.That(t, len(coords.Known), test.ShouldEqual, 0)

	for _, bad := range []string{
		"",
		"1:(0,0,0);",
		"1:(0,0);i",
		"x:(0,0,0);i",
		"1(0,0,0);i",
		"1:0,0,0;i",
		"1:(0,a,0);i",
		"1:(0,0,0);1:(1,1,1);i",
	} {
		_, err := ParseGroundCoordinates(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestGroundCoordinatesResolver(t *testing.T) {
	prompt := ResolverFunc(func(ctx context.Context, id int) (r3.Vector, bool, error) {
		return r3.Vector{X: float64(id)}, true, nil
	})

	coords, err := ParseGroundCoordinates("1:(0,0,7);i")
	test.That(t, err, test.ShouldBeNil)
	r := coords.Resolver(prompt)
	_, ok, err := r.Resolve(context.Background(), 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	coords.Interactive = true
	r = coords.Resolver(prompt)
	c, ok, err := r.Resolve(context.Background(), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, r3.Vector{Z: 7})
	c, ok, err = r.Resolve(context.Background(), 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, r3.Vector{X: 5})
}

func TestConsoleResolver(t *testing.T) {
	var out strings.Builder
	r := NewConsoleResolver(strings.NewReader("1 2\nnot, a, number\n0.5, -1 2\n\n4,4,4\n"), &out)

	c, ok, err := r.Resolve(context.Background(), 9)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, r3.Vector{X: 0.5, Y: -1, Z: 2})
	test.That(t, strings.Count(out.String(), "marker 9"), test.ShouldEqual, 3)

	_, ok, err = r.Resolve(context.Background(), 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	c, ok, err = r.Resolve(context.Background(), 11)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, r3.Vector{X: 4, Y: 4, Z: 4})

	_, ok, err = r.Resolve(context.Background(), 12)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}
