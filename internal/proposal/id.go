package proposal

import (
	"strings"

	"github.com/google/uuid"

	"kgsink/internal/address"
)

// namespace scopes every id derived by this package.
var namespace = uuid.MustParse("6f1c2d0e-5b8a-4a53-9a0e-1f6ad3c0b7e4")

// ID derives the persisted proposal id from the plugin that emitted the
// proposal and its on-chain id. Decoded content never influences it.
func ID(pluginAddress, onchainProposalID string) string {
	return uuid.NewSHA1(namespace, []byte(normalize(pluginAddress)+":"+strings.TrimSpace(onchainProposalID))).String()
}

// VersionID derives the id of the version an edit proposal creates for one
// entity, so replaying the proposal maps onto the same rows.
func VersionID(proposalID, entityID string) string {
	return uuid.NewSHA1(namespace, []byte(proposalID+":"+entityID)).String()
}

func normalize(addr string) string {
	if checksummed, err := address.Checksum(addr); err == nil {
		return checksummed
	}
	return strings.ToLower(strings.TrimSpace(addr))
}
