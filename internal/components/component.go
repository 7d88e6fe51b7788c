package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"orbot/internal/graph"
)

const (
	StorageComponentName    = "storage"
	FollowListComponentName = "follow_list"
	DiscordComponentName    = "discord"
	MetricsComponentName    = "metrics"
)

type IComponent interface {
	Name() string
	Dependencies() []string
	Validate() error
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

// Registry initializes components in dependency order and closes them in
// reverse.
type Registry struct {
	components map[string]IComponent
	order      []string
	log        *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		components: make(map[string]IComponent),
		order:      make([]string, 0),
		log:        log.With("component", "registry"),
	}
}

func (r *Registry) Register(component IComponent) error {
	name := component.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	r.components[name] = component
	return nil
}

func (r *Registry) Get(name string) IComponent {
	comp, exists := r.components[name]
	if !exists {
		panic(fmt.Sprintf("component %s not found", name))
	}
	return comp
}

func (r *Registry) InitializeAll(ctx context.Context) error {
	nodes := make(map[string]graph.Node)
	for name, comp := range r.components {
		nodes[name] = &componentNode{comp: comp}
	}

	if err := graph.ValidateGraph(nodes); err != nil {
		return err
	}
	order, err := graph.TopologicalSort(nodes)
	if err != nil {
		return err
	}

	for _, name := range order {
		comp := r.components[name]
		if err := comp.Validate(); err != nil {
			return fmt.Errorf("component %s validation failed: %w", name, err)
		}
	}

	for _, name := range order {
		comp := r.components[name]
		r.log.Debug("Initializing component", "name", name)
		if err := comp.Initialize(ctx); err != nil {
			// Close what already came up.
			r.closeOrder(ctx, r.order)
			r.order = r.order[:0]
			return fmt.Errorf("component %s initialization failed: %w", name, err)
		}
		r.order = append(r.order, name)
	}

	r.log.Info("All components initialized", "order", order)
	return nil
}

type componentNode struct {
	comp IComponent
}

func (cn *componentNode) GetName() string {
	return cn.comp.Name()
}

func (cn *componentNode) GetDependencies() []string {
	return cn.comp.Dependencies()
}

func (r *Registry) CloseAll(ctx context.Context) error {
	err := r.closeOrder(ctx, r.order)
	r.order = r.order[:0]
	return err
}

func (r *Registry) closeOrder(ctx context.Context, order []string) error {
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := r.components[name].Close(ctx); err != nil {
			r.log.Error("Error closing component", "name", name, "error", err)
			errs = append(errs, fmt.Errorf("component %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
