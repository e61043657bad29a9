package main

import (
	"reflect"

	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/observability"
)

// reload swaps the service table. Other sections take effect on restart.
func (a *application) reload(newCfg *config.GatewayConfig) {
	a.mu.Lock()
	oldCfg := a.config
	a.mu.Unlock()

	if err := a.registry.Replace(newCfg.Services); err != nil {
		a.logger.Error("failed to reload services, keeping previous table", observability.Error(err))
		return
	}

	changed := changedServices(oldCfg.Services, newCfg.Services)
	if breakers := a.policy.Breakers(); breakers != nil {
		for _, name := range changed {
			breakers.Remove(name)
		}
	}
	if len(changed) > 0 {
		a.reflection.Forget()
	}
	a.checker.Retain(a.registry.Names())

	if restartRequired(oldCfg, newCfg) {
		a.logger.Warn("configuration sections other than services changed; restart to apply them")
	}

	a.mu.Lock()
	a.config = newCfg
	a.mu.Unlock()

	a.logger.Info("services reloaded",
		observability.Int("services", len(newCfg.Services)),
		observability.Int("changed", len(changed)),
	)
}

// changedServices lists services that were removed or whose definition
// differs between old and updated.
func changedServices(old, updated map[string]config.ServiceConfig) []string {
	var names []string
	for name, svc := range old {
		next, ok := updated[name]
		if !ok || !reflect.DeepEqual(svc, next) {
			names = append(names, name)
		}
	}
	return names
}

func restartRequired(old, updated *config.GatewayConfig) bool {
	return !reflect.DeepEqual(old.Server, updated.Server) ||
		!reflect.DeepEqual(old.Resilience, updated.Resilience) ||
		!reflect.DeepEqual(old.GRPC, updated.GRPC) ||
		!reflect.DeepEqual(old.Health, updated.Health) ||
		!reflect.DeepEqual(old.Observability, updated.Observability)
}
