package app

import (
	"strings"

	"github.com/insightconsole/backend/internal/database"
	"github.com/insightconsole/backend/internal/workflows"
)

// ConnectionConfig converts DatabaseConfig into the database package representation,
// picking the host block that matches the driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver:          strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:            c.Path,
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		LogSQL:          c.LogSQL,
	}

	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		return cfg
	}
	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	return cfg
}

// Seeds converts the configured domain firms.
func (c TenancyConfig) Seeds() []database.DomainFirm {
	seeds := make([]database.DomainFirm, 0, len(c.DomainFirms))
	for _, firm := range c.DomainFirms {
		seeds = append(seeds, database.DomainFirm{
			Domain: strings.ToLower(strings.TrimSpace(firm.Domain)),
			Name:   strings.TrimSpace(firm.Name),
		})
	}
	return seeds
}

// RunnerConfig converts WorkflowsConfig for the runner.
func (c WorkflowsConfig) RunnerConfig() workflows.Config {
	return workflows.Config{
		Workers:    c.Workers,
		QueueSize:  c.QueueSize,
		JobTimeout: c.JobTimeout,
	}
}
