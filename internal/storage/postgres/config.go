package postgres

import "fmt"

// Config holds PostgreSQL sink settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("PostgreSQL DSN is required")
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return nil
}
