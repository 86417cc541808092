package main

import (
	"github.com/ciel-container/ciel/lifecycle"
	"github.com/ciel-container/ciel/registry"
	"github.com/ciel-container/ciel/runtime"
	"github.com/ciel-container/ciel/workspace"
)

// cliContext bundles the two collaborators every verb's RunE needs:
// a lifecycle.Controller for mutating transitions and a registry.Registry
// for enumeration, both built on the same runtime.Client.
type cliContext struct {
	controller *lifecycle.Controller
	registry   *registry.Registry
}

// openContext resolves root as a workspace and wires a real
// systemd-machined client behind it.
func openContext(root string) (*cliContext, error) {
	ws, err := workspace.Open(root)
	if err != nil {
		return nil, err
	}
	rt, err := runtime.NewMachined()
	if err != nil {
		return nil, err
	}
	return &cliContext{
		controller: lifecycle.New(ws, rt),
		registry:   registry.New(ws, rt),
	}, nil
}
