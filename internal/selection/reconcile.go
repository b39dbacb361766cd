// Package selection keeps the (provider, model) choice consistent with the
// server catalogs and with its persisted form.
package selection

// Reconcile picks the id to use for catalog. The current id wins when it is
// still in the catalog, then the persisted id, then the first entry. An empty
// catalog yields the zero id. fromDefault reports the last case.
func Reconcile[T ~string](current, persisted T, catalog []T) (chosen T, fromDefault bool) {
	if len(catalog) == 0 {
		return chosen, false
	}
	if current != "" && contains(catalog, current) {
		return current, false
	}
	if persisted != "" && contains(catalog, persisted) {
		return persisted, false
	}
	return catalog[0], true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
