package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"weather-options/internal/models"
)

// ExtractRequestID returns the second topic of the first log emitted by
// consumer that carries at least two topics. Logs from any other address are
// never trusted, even if they look like a request event.
func ExtractRequestID(logs []*types.Log, consumer common.Address) (common.Hash, error) {
	for _, l := range logs {
		if l == nil || l.Address != consumer {
			continue
		}
		if len(l.Topics) >= 2 {
			return l.Topics[1], nil
		}
	}
	return common.Hash{}, models.ErrRequestIDNotFound
}

// Succeeded reports whether a mined receipt has success status
func Succeeded(r *types.Receipt) bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}
