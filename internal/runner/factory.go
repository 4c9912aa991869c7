package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handle is a hosted server instance created by a Factory. Serve blocks until
// the server exits or ctx is cancelled.
type Handle interface {
	Serve(ctx context.Context) error
}

// Factory creates a named hosted server from its config map. Factories are
// registered explicitly at startup; there is no dynamic loading.
type Factory func(ctx context.Context, cfg map[string]any) (Handle, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory makes a factory resolvable by name. Registering the same
// name twice panics: it is a wiring bug, not a runtime condition.
func RegisterFactory(name string, f Factory) {
	if name == "" || f == nil {
		panic("runner: RegisterFactory requires a name and a factory")
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("runner: factory %q registered twice", name))
	}
	factories[name] = f
}

// ResolveFactory looks up a factory by name.
func ResolveFactory(name string) (Factory, error) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown server factory %q (registered: %v)", name, factoryNamesLocked())
	}
	return f, nil
}

// FactoryNames lists registered factory names, sorted.
func FactoryNames() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	return factoryNamesLocked()
}

func factoryNamesLocked() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
