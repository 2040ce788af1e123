package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hay-kot/parley/internal/core/feed"
)

// Dialer connects to the feed at url.
type Dialer func(ctx context.Context, url string) (feed.Reader, io.Closer, error)

// FeedCheck verifies the feed server answers reads.
type FeedCheck struct {
	url     string
	dial    Dialer
	timeout time.Duration
}

// NewFeedCheck creates a feed reachability check.
func NewFeedCheck(url string, dial Dialer) *FeedCheck {
	return &FeedCheck{url: url, dial: dial, timeout: 5 * time.Second}
}

func (c *FeedCheck) Name() string {
	return "Feed"
}

func (c *FeedCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	r, closer, err := c.dial(ctx, c.url)
	if err != nil {
		result.add(StatusFail, "Connect", err.Error())
		return result
	}
	defer closer.Close() //nolint:errcheck

	raw, found, err := r.Get(ctx, feed.RoomsPath)
	if err != nil {
		result.add(StatusFail, "Read", err.Error())
		return result
	}
	result.add(StatusPass, "Connect", fmt.Sprintf("%s in %s", c.url, time.Since(start).Round(time.Millisecond)))

	rooms, err := countChildren(raw, found)
	switch {
	case err != nil:
		result.add(StatusWarn, "Rooms", err.Error())
	case rooms == 0:
		result.add(StatusWarn, "Rooms", "no rooms yet, create one with 'parley room new NAME'")
	default:
		result.add(StatusPass, "Rooms", fmt.Sprintf("%d room(s)", rooms))
	}

	return result
}

// countChildren counts the keys of a JSON object value.
func countChildren(raw json.RawMessage, found bool) (int, error) {
	if !found {
		return 0, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, fmt.Errorf("unexpected rooms value: %w", err)
	}
	return len(obj), nil
}
