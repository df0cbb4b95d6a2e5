package mcp

import (
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server calls. Every call is
// made on behalf of Tenant; clients cannot choose another tenant.
type Ports struct {
	Tenant domain.TenantID

	Retrieval driving.RetrievalService
	Jobs      driving.JobService

	// Sources is optional and backs the resources.
	Sources driving.SourceService
}

// Validate ensures the required ports are set.
func (p *Ports) Validate() error {
	if err := domain.RequireTenant(p.Tenant); err != nil {
		return err
	}
	if p.Retrieval == nil {
		return ErrMissingRetrievalService
	}
	if p.Jobs == nil {
		return ErrMissingJobService
	}
	return nil
}
