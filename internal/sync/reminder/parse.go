package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrNoTime is returned when a phrase contains no recognizable time.
var ErrNoTime = errors.New("no time found")

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseReminder turns a phrase such as "tomorrow at 9am" or "in 2 hours" into
// a timestamp relative to now. RFC 3339 timestamps are accepted as-is.
func ParseReminder(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrNoTime
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}

	r, err := parser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w in %q", ErrNoTime, text)
	}
	return r.Time, nil
}
