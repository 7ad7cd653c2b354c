package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// NotFoundError reports that one or more referenced entities do not exist.
// IDs always carries the complete missing set, not just the first hit.
type NotFoundError struct {
	Kind string
	IDs  []int64
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("%s with ID %d does not exist", e.Kind, e.IDs[0])
	}
	return fmt.Sprintf("%ss with IDs [%s] do not exist", e.Kind, joinIDs(e.IDs))
}

func notFound(kind string, ids ...int64) *NotFoundError {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &NotFoundError{Kind: kind, IDs: sorted}
}

// ConflictError reports an illegal association, currently only a document
// referencing itself.
type ConflictError struct {
	ID      int64
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func selfReferenceConflict(id int64) *ConflictError {
	return &ConflictError{
		ID:      id,
		Message: fmt.Sprintf("document can not reference itself, remove ID %d from the reference list", id),
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
