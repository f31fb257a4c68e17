package scanner

import (
	"context"
	"fmt"

	"BiblioScanner/internal/domain"
)

// Request carries all parameters required to execute one discovery task.
type Request struct {
	Task   domain.Task
	Window domain.Window
}

// Scanner captures a single upstream strategy (OpenAlex, RSS, etc.).
type Scanner interface {
	Name() string
	Supports() []domain.TaskType
	Scan(ctx context.Context, req Request) ([]domain.Paper, error)
}

// Registry keeps a mapping from task types to the scanner that serves them.
type Registry struct {
	scanners map[domain.TaskType]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[domain.TaskType]Scanner{}}
}

// Register adds or replaces a scanner for every task type it supports.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[domain.TaskType]Scanner{}
	}
	for _, typ := range scanner.Supports() {
		r.scanners[typ] = scanner
	}
}

// Resolve returns the scanner for a task type or an error if it is absent.
func (r *Registry) Resolve(typ domain.TaskType) (Scanner, error) {
	if scanner, ok := r.scanners[typ]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("no scanner registered for task type %q", typ)
}
