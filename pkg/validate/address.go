package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// nearAccountPattern is the NEAR account id grammar: lowercase alphanumeric
// segments joined by '.', '-' or '_'.
var nearAccountPattern = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)

// RecipientAddress validates the recipient address format for the target
// chain. Validation errors are local and recoverable: they block progression
// but never tear down the flow.
func RecipientAddress(chain, address string) error {
	if address == "" {
		return fmt.Errorf("recipient address is required")
	}

	switch strings.ToLower(chain) {
	case "eth", "ethereum", "arb", "arbitrum", "base", "op", "optimism", "polygon", "bsc", "avax", "avalanche":
		if !common.IsHexAddress(address) {
			return fmt.Errorf("'%s' is not a valid EVM address", address)
		}
	case "sol", "solana":
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("'%s' is not a valid Solana address: %w", address, err)
		}
	case "near":
		if len(address) < 2 || len(address) > 64 {
			return fmt.Errorf("NEAR account id must be between 2 and 64 characters")
		}
		if !nearAccountPattern.MatchString(address) {
			return fmt.Errorf("'%s' is not a valid NEAR account id", address)
		}
	default:
		// Chains without a dedicated validator only get the non-empty
		// check; the provider rejects anything it cannot pay out to.
	}

	return nil
}
