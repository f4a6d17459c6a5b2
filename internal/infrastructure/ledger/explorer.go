package ledger

import (
	"fmt"

	"github.com/ucp/merchant/internal/domain/settlement"
)

const explorerBaseURL = "https://hashscan.io"

// ExplorerURL links a transaction on the public explorer. Unknown networks
// link to testnet; the local network has no explorer.
func ExplorerURL(network settlement.Network, transactionID string) string {
	if transactionID == "" {
		return ""
	}
	switch network {
	case settlement.NetworkLocal:
		return ""
	case settlement.NetworkMainnet, settlement.NetworkTestnet, settlement.NetworkPreviewnet:
	default:
		network = settlement.NetworkTestnet
	}
	return fmt.Sprintf("%s/%s/transaction/%s", explorerBaseURL, network, transactionID)
}
