package catalog

import "context"

// assocLoader fetches the full entities behind a batch of requested ids,
// registers them in the working graph and reports which ids were found.
type assocLoader func(ctx context.Context, ids []int64) (found []int64, err error)

// reconcileAssociations drives one relationship of one owning entity from its
// current membership set to the client-requested one.
//
// The requested set is compared to the current set by id. If they match
// structurally nothing happens and the loader is never called, which makes
// field-only updates cheap. Otherwise the requested entities are fetched in
// one batch and checked for existence before anything is mutated: a missing
// id aborts the whole reconciliation with the complete missing set, leaving
// the graph untouched. The applied delta is minimal - ids present on both
// sides are never removed and re-added - and additions run before removals.
func reconcileAssociations(
	ctx context.Context,
	kind string,
	requested []int64,
	current []int64,
	load assocLoader,
	add func(id int64) error,
	remove func(id int64),
) error {
	requestedSet := idSet(requested)
	currentSet := idSet(current)
	if equalIDSets(requestedSet, currentSet) {
		return nil
	}

	found, err := load(ctx, sortedKeys(requestedSet))
	if err != nil {
		return err
	}
	missing := subtractIDSets(requestedSet, idSet(found))
	if len(missing) > 0 {
		return notFound(kind, missing...)
	}

	toAdd := subtractIDSets(requestedSet, currentSet)
	toRemove := subtractIDSets(currentSet, requestedSet)

	for _, id := range toAdd {
		if err := add(id); err != nil {
			return err
		}
	}
	for _, id := range toRemove {
		remove(id)
	}
	return nil
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func equalIDSets(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// subtractIDSets returns a minus b, sorted.
func subtractIDSets(a, b map[int64]struct{}) []int64 {
	diff := make(map[int64]struct{})
	for id := range a {
		if _, ok := b[id]; !ok {
			diff[id] = struct{}{}
		}
	}
	return sortedKeys(diff)
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
