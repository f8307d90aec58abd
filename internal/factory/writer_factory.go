package factory

import (
	"fmt"
	"sort"

	"Go2NetStats/internal/config"
	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"

	"github.com/hashicorp/go-multierror"
)

// WriterFactory creates a writer from its configuration entry.
type WriterFactory func(def config.WriterDef) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Types returns the registered writer types in sorted order.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateWriters builds every enabled writer of the config. If any writer
// fails, the ones already created are closed and the error is returned.
func CreateWriters(cfg *config.Config) ([]model.Writer, error) {
	log := logging.WithComponent("factory")
	var writers []model.Writer

	for i, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		log.Infof("Creating writer #%d of type '%s'", i, def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			return nil, closeAll(writers, fmt.Errorf("unknown writer type: '%s'", def.Type))
		}

		w, err := factory(def)
		if err != nil {
			return nil, closeAll(writers, fmt.Errorf("error creating writer type '%s': %w", def.Type, err))
		}
		writers = append(writers, w)
	}

	return writers, nil
}

func closeAll(writers []model.Writer, cause error) error {
	result := multierror.Append(nil, cause)
	for _, w := range writers {
		if err := w.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close writer '%s': %w", w.Name(), err))
		}
	}
	return result.ErrorOrNil()
}
