// Package receipt links each voter's votes into a keccak hash chain and signs
// every link with the service key, so a stored vote cannot be edited or dropped
// from the middle of a chain without the signature check failing.
package receipt

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"election-service/internal/domain"
)

// Signer holds the secp256k1 key receipts are signed with
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt signing key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// GenerateSigner creates a signer with a fresh random key
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate receipt signing key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address is the public identity receipts can be verified against
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Link computes keccak256(prevChain || voteHash). An empty prevChain starts a new chain.
func Link(prevChain, voteHash string) string {
	return crypto.Keccak256Hash(common.FromHex(prevChain), common.FromHex(voteHash)).Hex()
}

func digest(chainHash, receiptHash string) []byte {
	return crypto.Keccak256(common.FromHex(chainHash), []byte(receiptHash))
}

// Sign signs keccak256(chainHash || receiptHash)
func (s *Signer) Sign(chainHash, receiptHash string) (string, error) {
	sig, err := crypto.Sign(digest(chainHash, receiptHash), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// Verify checks that signature was produced by this signer over the link
func (s *Signer) Verify(chainHash, receiptHash, signature string) bool {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	pub, err := crypto.SigToPub(digest(chainHash, receiptHash), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == s.address
}

// Seal fills the chain fields of v from the previous head of the voter's chain
func (s *Signer) Seal(v *domain.Vote, prevSeq int, prevChain string) error {
	v.ChainSeq = prevSeq + 1
	v.PrevChainHash = prevChain
	v.ChainHash = Link(prevChain, v.VoteHash)
	sig, err := s.Sign(v.ChainHash, v.ReceiptHash)
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// VerifyVote recomputes every hash of a stored vote and checks it follows expectedPrev.
func (s *Signer) VerifyVote(v *domain.Vote, expectedPrev string) error {
	switch {
	case v.RecomputeHash() != v.VoteHash:
		return domain.Integrity(v.ID, "vote hash mismatch")
	case domain.ReceiptFromHash(v.VoteHash) != v.ReceiptHash:
		return domain.Integrity(v.ID, "receipt hash mismatch")
	case v.PrevChainHash != expectedPrev:
		return domain.Integrity(v.ID, "chain link broken")
	case Link(v.PrevChainHash, v.VoteHash) != v.ChainHash:
		return domain.Integrity(v.ID, "chain hash mismatch")
	case !s.Verify(v.ChainHash, v.ReceiptHash, v.Signature):
		return domain.Integrity(v.ID, "signature invalid")
	}
	return nil
}

// VerifyChains walks the votes of an election, which must be ordered by voter and
// chain sequence, and returns the integrity failure of every vote that does not verify.
// A vote after a broken link is checked against its own stored predecessor so one
// tampered row does not flag the rest of the chain.
func (s *Signer) VerifyChains(votes []domain.Vote) map[string]error {
	failures := make(map[string]error)
	var (
		voter string
		prev  string
		seq   int
	)
	for i := range votes {
		v := &votes[i]
		if v.VoterID != voter {
			voter, prev, seq = v.VoterID, "", 0
		}
		if v.ChainSeq != seq+1 {
			failures[v.ID] = domain.Integrity(v.ID, "chain sequence gap")
		} else if err := s.VerifyVote(v, prev); err != nil {
			failures[v.ID] = err
		}
		prev, seq = v.ChainHash, v.ChainSeq
	}
	return failures
}
