package helcim

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	APIURL   string
	APIToken string
	Currency string
	// DeviceMap resolves a location id to the device code of its terminal
	DeviceMap map[string]string
	Timeout   time.Duration
}

func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	if c.APIToken == "" {
		return fmt.Errorf("api token is required")
	}
	if c.Currency == "" {
		c.Currency = "CAD"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	return nil
}

func (c *Config) deviceCode(locationID string) (string, error) {
	code, ok := c.DeviceMap[locationID]
	if !ok || code == "" {
		return "", fmt.Errorf("no terminal device paired with location %q", locationID)
	}
	return code, nil
}
