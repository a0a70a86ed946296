package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const SignatureLength = 65

var (
	ErrSignatureLength = errors.New("invalid signature length")
	ErrRecoveryID      = errors.New("invalid recovery id")
	ErrSignerMismatch  = errors.New("signature does not match signer")
)

// Signer holds a secp256k1 identity and produces Ethereum-style signatures.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

func GenerateSigner() (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// LoadSigner parses a hex private key, with or without 0x prefix.
func LoadSigner(hexKey string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return NewSigner(key), nil
}

func LoadSignerFile(path string) (*Signer, error) {
	key, err := ethcrypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("load private key file: %w", err)
	}
	return NewSigner(key), nil
}

func (s *Signer) Address() common.Address        { return s.address }
func (s *Signer) PrivateKey() *ecdsa.PrivateKey { return s.key }

// SignHash returns r || s || v with v in {27, 28}.
func (s *Signer) SignHash(hash common.Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(hash[:], s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func normalize(sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		return nil, ErrSignatureLength
	}
	out := make([]byte, SignatureLength)
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	if out[64] > 1 {
		return nil, ErrRecoveryID
	}
	return out, nil
}

// Recover returns the address that produced sig over hash. Both 0/1 and
// 27/28 recovery ids are accepted.
func Recover(hash common.Hash, sig []byte) (common.Address, error) {
	norm, err := normalize(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(hash[:], norm)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func Verify(signer common.Address, hash common.Hash, sig []byte) bool {
	addr, err := Recover(hash, sig)
	return err == nil && addr == signer
}

func ChallengeHash(challenge string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(challenge))
}

// RecoverChallenge returns the candidate signers of keccak256(challenge).
// A 64 byte r || s signature carries no recovery id, so both candidates
// are returned.
func RecoverChallenge(challenge string, sig []byte) ([]common.Address, error) {
	hash := ChallengeHash(challenge)
	var ids []byte
	switch len(sig) {
	case SignatureLength:
		v := sig[64]
		if v >= 27 {
			v -= 27
		}
		if v > 1 {
			return nil, ErrRecoveryID
		}
		ids = []byte{v}
	case SignatureLength - 1:
		ids = []byte{0, 1}
	default:
		return nil, ErrSignatureLength
	}
	var out []common.Address
	for _, id := range ids {
		compact := append([]byte{27 + id}, sig[:64]...)
		pub, _, err := btcec.RecoverCompact(btcec.S256(), compact, hash[:])
		if err != nil {
			continue
		}
		out = append(out, ethcrypto.PubkeyToAddress(*pub.ToECDSA()))
	}
	if len(out) == 0 {
		return nil, ErrSignerMismatch
	}
	return out, nil
}

func VerifyChallenge(challenge string, sig []byte, claimed common.Address) error {
	candidates, err := RecoverChallenge(challenge, sig)
	if err != nil {
		return err
	}
	for _, addr := range candidates {
		if addr == claimed {
			return nil
		}
	}
	return ErrSignerMismatch
}
