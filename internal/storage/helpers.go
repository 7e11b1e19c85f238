package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is the on-disk timestamp format. Values are always written in UTC
// with a fixed fraction width, so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// legacyTimeLayouts are accepted when reading rows written by older builds,
// which stored naive local times.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && rErr != sql.ErrTxDone && *err == nil {
		*err = rErr
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: unsupported format", s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
