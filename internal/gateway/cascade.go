package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/store"
)

// collectCascade walks the dependency graph breadth-first from the delete
// target and returns the full set of doomed entities in deletion order:
// deepest dependents first, the target itself last.
func collectCascade(ctx context.Context, tx store.Tx, target domain.Entity) ([]domain.Entity, error) {
	visited := map[uuid.UUID]bool{target.EntityID(): true}
	levels := [][]domain.Entity{{target}}

	frontier := []domain.Entity{target}
	for len(frontier) > 0 {
		var next []domain.Entity
		for _, parent := range frontier {
			children, err := tx.ListDependents(ctx, parent.Type(), parent.EntityID())
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if visited[child.EntityID()] {
					continue
				}
				visited[child.EntityID()] = true
				next = append(next, child)
			}
		}
		if len(next) > 0 {
			levels = append(levels, next)
		}
		frontier = next
	}

	// Reverse the level order so leaves go first.
	out := make([]domain.Entity, 0, len(visited))
	for i := len(levels) - 1; i >= 0; i-- {
		out = append(out, levels[i]...)
	}
	return out, nil
}
