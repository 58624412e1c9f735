package session

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/vctt94/slotbisonrelay/pkg/storage"
)

// LaunchParams are the values an operator passes on the game launch URL.
type LaunchParams struct {
	Token    string
	ExitURL  string
	Device   string
	Language string
	Currency string
}

func firstQuery(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// ParseLaunchURL extracts the launch parameters from raw.
func ParseLaunchURL(raw string) (LaunchParams, error) {
	var p LaunchParams
	if raw == "" {
		return p, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return p, fmt.Errorf("invalid launch URL: %w", err)
	}
	q := u.Query()
	p.Token = firstQuery(q, "token", "t")
	p.ExitURL = firstQuery(q, "exitUrl", "exit_url", "lobbyUrl")
	p.Device = firstQuery(q, "device", "platform")
	p.Language = firstQuery(q, "lang", "language")
	p.Currency = firstQuery(q, "currency", "cur")
	if p.ExitURL != "" {
		if _, err := url.Parse(p.ExitURL); err != nil {
			return p, fmt.Errorf("invalid exit URL: %w", err)
		}
	}
	return p, nil
}

// PersistLaunchParams stores the launch parameters. A launch that carries
// its own token is an explicit re-launch and wipes what the previous launch
// left behind first.
func (c *Client) PersistLaunchParams(p LaunchParams) error {
	if p.Token != "" {
		if err := c.store.Clear(); err != nil {
			return fmt.Errorf("clear launch state: %w", err)
		}
	}
	if p.ExitURL != "" {
		if err := c.store.Put(storage.KeyExitURL, p.ExitURL); err != nil {
			return err
		}
	}
	if p.Device != "" {
		if err := c.store.Put(storage.KeyDevice, p.Device); err != nil {
			return err
		}
	}

	c.mtx.Lock()
	if p.Language != "" {
		c.cfg.Language = p.Language
	}
	if p.Currency != "" {
		c.cfg.Currency = p.Currency
	}
	c.mtx.Unlock()
	return nil
}

// ExitURL returns the persisted exit URL, or "".
func (c *Client) ExitURL() string {
	return c.persisted(storage.KeyExitURL)
}

// Device returns the persisted device hint, or "".
func (c *Client) Device() string {
	return c.persisted(storage.KeyDevice)
}

func (c *Client) persisted(key string) string {
	v, err := c.store.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warnf("Unable to read %s: %v", key, err)
		}
		return ""
	}
	return v
}
