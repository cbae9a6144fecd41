package memberstore

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spilltree/spilltree/membertree"
)

// ReadLegacyJSON parses a members.json file as written by the earlier file-backed service: a
// single JSON array of member objects. Password hashes in that format are dropped.
func ReadLegacyJSON(r io.Reader) ([]membertree.Member, error) {
	var members []membertree.Member
	if err := json.NewDecoder(r).Decode(&members); err != nil {
		return nil, fmt.Errorf("decoding members file: %w", err)
	}
	for i := range members {
		m := &members[i]
		if m.Position != "" && !m.Position.Valid() {
			return nil, fmt.Errorf("member %q has invalid position %q", m.Code, m.Position)
		}
		m.JoinedAt = m.JoinedAt.UTC()
	}
	return members, nil
}

// WriteLegacyJSON writes members in the same layout ReadLegacyJSON accepts.
func WriteLegacyJSON(w io.Writer, members []membertree.Member) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(members)
}
