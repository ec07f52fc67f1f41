package host

import (
	"context"
	"fmt"
)

// Commands are the values a scraper reads from its host before activating.
type Commands interface {
	// IsDev reports a developer build.
	IsDev(ctx context.Context) (bool, error)
	// URL returns the target page stored for scraperID.
	URL(ctx context.Context, scraperID string) (string, error)
}

// StaticCommands serves commands from configuration.
type StaticCommands struct {
	Dev  bool
	URLs map[string]string
}

func (c StaticCommands) IsDev(context.Context) (bool, error) { return c.Dev, nil }

func (c StaticCommands) URL(_ context.Context, scraperID string) (string, error) {
	u, ok := c.URLs[scraperID]
	if !ok {
		return "", fmt.Errorf("no url stored for scraper %q", scraperID)
	}
	return u, nil
}
