package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestReplaceCameraID(t *testing.T) {
	test.That(t, ReplaceCameraID("cam[ci].yml", 3), test.ShouldEqual, "cam3.yml")
	test.That(t, ReplaceCameraID("[ci]/transform_[ci].yml", 12), test.ShouldEqual, "12/transform_12.yml")
	test.That(t, ReplaceCameraID("intrinsics.yml", 1), test.ShouldEqual, "intrinsics.yml")
}

func TestParseCameraIDs(t *testing.T) {
	ids, err := ParseCameraIDs("0,1,2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, []int{0, 1, 2})

	ids, err = ParseCameraIDs(" 4 , 7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, []int{4, 7})

	for _, bad := range []string{"", "a,b", "1,,2", "-1", "1,1"} {
		_, err := ParseCameraIDs(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
