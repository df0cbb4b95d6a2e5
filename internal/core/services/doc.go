// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// Services hold no storage or transport code of their own; everything
// outside the process is reached through a driven port.
package services
