package discovery

// inferRelayTypes infers relay types from a set of supported NIPs, for
// sources (the REST descriptor) that report capabilities but not a type
// directly: NIP-50 (search) -> SEARCH; NIP-65 relay-list support alongside
// the baseline event/filter NIPs -> PUBLIC_OUTBOX; NIPs 4 and 44 (DM
// encryption) -> PUBLIC_INBOX; NIP-96 (file storage) -> BLOB. A relay
// advertising only the baseline NIPs with none of the above falls back to
// PUBLIC_OUTBOX.
func inferRelayTypes(nips []int) []RelayType {
	has := make(map[int]bool, len(nips))
	for _, n := range nips {
		has[n] = true
	}

	var types []RelayType
	if has[50] {
		types = append(types, TypeSearch)
	}
	if has[65] && has[1] && has[2] {
		types = append(types, TypePublicOutbox)
	}
	if has[4] && has[44] {
		types = append(types, TypePublicInbox)
	}
	if has[96] {
		types = append(types, TypeBlob)
	}
	if len(types) == 0 && has[1] && has[2] {
		types = append(types, TypePublicOutbox)
	}
	return types
}
