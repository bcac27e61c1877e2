package mall

import "strings"

// systemPrefixes are full-id prefixes treated as local despite the leading
// colon: ":system:" and ":_system:" streams belong to the local store (they
// back internal/systemstreams), not to a pluggable store.
var systemPrefixes = []string{":system:", ":_system:"}

// parseStoreIdAndStoreItemId splits a full item id into its owning store id
// and the store-local id. Ids with no ":<storeId>:" marker, or one of the
// reserved system prefixes, belong to the local store.
func parseStoreIdAndStoreItemId(full string) (storeID, localID string) {
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(full, prefix) {
			return LocalStoreID, full
		}
	}
	if !strings.HasPrefix(full, ":") {
		return LocalStoreID, full
	}
	rest := full[1:]
	idx := strings.Index(rest, ":")
	if idx < 0 {
		// malformed marker (no closing colon) — treat the whole thing as local.
		return LocalStoreID, full
	}
	storeID = rest[:idx]
	localID = rest[idx+1:]
	if localID == "" {
		localID = "*"
	}
	return storeID, localID
}

// getFullItemId reattaches a store id to a store-local id. The local
// store's ids pass through unprefixed; any other store's root pseudo-stream
// ("*") becomes the bare ":<storeId>:" marker.
func getFullItemId(storeID, localID string) string {
	if storeID == "" || storeID == LocalStoreID {
		return localID
	}
	if localID == "*" {
		return ":" + storeID + ":"
	}
	return ":" + storeID + ":" + localID
}
