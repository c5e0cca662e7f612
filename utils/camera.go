package utils

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// CameraIDToken is the placeholder substituted with the active camera id in path arguments.
const CameraIDToken = "[ci]"

// ReplaceCameraID substitutes every CameraIDToken in path with id.
func ReplaceCameraID(path string, id int) string {
	return strings.ReplaceAll(path, CameraIDToken, strconv.Itoa(id))
}

// ParseCameraIDs parses a comma separated list of non-negative camera ids such as "0,1,2".
// Duplicates are rejected since each camera owns one transform.
func ParseCameraIDs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("no camera ids given")
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := cast.ToIntE(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid camera id %q", part)
		}
		if id < 0 {
			return nil, errors.Errorf("camera id %d must not be negative", id)
		}
		ids = append(ids, id)
	}
	if dups := lo.FindDuplicates(ids); len(dups) > 0 {
		return nil, errors.Errorf("camera ids repeated: %v", dups)
	}
	return ids, nil
}
