package handlers

import (
	"bridgesentinel/access"
	"bridgesentinel/health"
	"bridgesentinel/monitor"
	"bridgesentinel/notify"
	"bridgesentinel/registry"
)

// API serves the read-only query surface. Recorder may be nil.
type API struct {
	Access   *access.Control
	Registry *registry.Registry
	Monitor  *monitor.Monitor
	Checker  *health.Checker
	Recorder *notify.Recorder
}
