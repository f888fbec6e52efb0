package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SessionSigner holds the delegated executor's key pair. Permission grants
// name its address as the authorized signer; the fallback raw-transaction
// submission path signs with it directly.
type SessionSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// LoadOrCreateSigner resolves the session key per KeyConfig (generating and
// persisting one when an encrypted-key path is configured but absent) and
// returns the ready signer.
func LoadOrCreateSigner(cfg KeyConfig) (*SessionSigner, error) {
	keyHex, err := loadKeyHex(cfg)
	if err != nil {
		return nil, err
	}

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing session key: %w", err)
	}

	return &SessionSigner{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the session signer's address.
func (s *SessionSigner) Address() common.Address {
	return s.address
}

// SignTx signs a transaction with the session key for the given chain.
func (s *SessionSigner) SignTx(tx *types.Transaction, chainID int64) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(chainID)), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: signing transaction: %w", err)
	}
	return signed, nil
}
