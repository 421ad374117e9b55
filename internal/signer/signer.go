// Package signer holds the key material abstraction used by the
// execution engine.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions and personal messages for one address.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	// SignMessage produces an EIP-191 personal-message signature with
	// the legacy 27/28 recovery id.
	SignMessage(msg []byte) ([]byte, error)
}

type localSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// FromHex builds a Signer from a hex private key, with or without the
// 0x prefix.
func FromHex(hexKey string) (Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: parse private key: %w", err)
	}
	return &localSigner{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *localSigner) Address() common.Address { return s.addr }

func (s *localSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func (s *localSigner) SignMessage(msg []byte) ([]byte, error) {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	sig, err := crypto.Sign(crypto.Keccak256([]byte(prefixed)), s.key)
	if err != nil {
		return nil, fmt.Errorf("signer: sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
