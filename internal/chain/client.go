// Package chain is the Solana ledger client for the rank-up service. It
// resolves and verifies token metadata records, confirms payment
// transactions, and commits metadata URI updates signed by the server
// authority.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrNotInCollection is a hard reject: the token's metadata record is
	// missing, malformed, or its primary creator is not the configured
	// collection authority. Never retried.
	ErrNotInCollection = errors.New("nft is not from the right collection")

	// ErrConfirmationTimeout is returned when a payment transaction does
	// not reach confirmed commitment within the configured window.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")

	// ErrCommitFailed covers signing and submission failures of the
	// metadata URI update instruction.
	ErrCommitFailed = errors.New("failed to commit metadata uri on-chain")
)

// Client talks to a Solana RPC node.
type Client struct {
	rpc             *rpc.Client
	verifiedCreator solana.PublicKey
	keystorePath    string
	confirmTimeout  time.Duration
	confirmInterval time.Duration
}

// NewClient creates a Client against the given RPC endpoint. verifiedCreator
// is the collection authority address every token must name as its primary
// creator. keystorePath points at the authority keypair file, read at call
// time by UpdateMetadataURI.
func NewClient(endpoint, verifiedCreator, keystorePath string, confirmTimeout, confirmInterval time.Duration) (*Client, error) {
	creator, err := solana.PublicKeyFromBase58(verifiedCreator)
	if err != nil {
		return nil, fmt.Errorf("invalid verified creator address: %w", err)
	}

	return &Client{
		rpc:             rpc.New(endpoint),
		verifiedCreator: creator,
		keystorePath:    keystorePath,
		confirmTimeout:  confirmTimeout,
		confirmInterval: confirmInterval,
	}, nil
}

// DecodeMetadata fetches and decodes the on-chain metadata record for a mint.
func (c *Client) DecodeMetadata(ctx context.Context, mint solana.PublicKey) (*Metadata, error) {
	pda, _, err := MetadataPDA(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive metadata PDA: %w", err)
	}

	resp, err := c.rpc.GetAccountInfoWithOpts(ctx, pda, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata account info: %w", err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("metadata account not found for mint %s", mint)
	}

	return ParseMetadata(resp.Value.Data.GetBinary())
}

// VerifyCollection resolves the token's metadata record and requires its
// primary declared creator to equal the configured collection authority.
// Any resolution failure or creator mismatch yields ErrNotInCollection.
func (c *Client) VerifyCollection(ctx context.Context, mintAddress string) (*Metadata, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mint address: %v", ErrNotInCollection, err)
	}

	meta, err := c.DecodeMetadata(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInCollection, err)
	}

	if len(meta.Creators) == 0 || !meta.Creators[0].Address.Equals(c.verifiedCreator) {
		return nil, ErrNotInCollection
	}

	return meta, nil
}

// ConfirmTransaction polls the signature status with exponential backoff
// until the transaction reaches confirmed commitment, errors on-chain, or
// the configured timeout elapses.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("invalid transaction signature: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	interval := c.confirmInterval
	for {
		resp, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(resp.Value) > 0 && resp.Value[0] != nil {
			status := resp.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain: %v", signature, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, signature)
		case <-time.After(interval):
		}

		// Back off up to a 16s ceiling.
		if interval < 16*time.Second {
			interval *= 2
		}
	}
}

// UpdateMetadataURI submits an UpdateMetadataAccountV2 instruction setting
// the token's metadata URI. The authority keypair is read from the keystore
// for this call only and never cached.
func (c *Client) UpdateMetadataURI(ctx context.Context, mintAddress, newURI string) (string, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return "", fmt.Errorf("%w: invalid mint address: %v", ErrCommitFailed, err)
	}

	meta, err := c.DecodeMetadata(ctx, mint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	signer, err := LoadAuthority(c.keystorePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	pda, _, err := MetadataPDA(mint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	instruction := solana.NewInstruction(
		TokenMetadataProgramID,
		[]*solana.AccountMeta{
			solana.NewAccountMeta(pda, true, false),
			solana.NewAccountMeta(signer.PublicKey(), false, true),
		},
		buildUpdateURIData(meta, newURI),
	)

	latestBlockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get latest blockhash: %v", ErrCommitFailed, err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		latestBlockhash.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create transaction: %v", ErrCommitFailed, err)
	}

	_, err = tx.Sign(
		func(key solana.PublicKey) *solana.PrivateKey {
			if signer.PublicKey().Equals(key) {
				return &signer
			}
			return nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign transaction: %v", ErrCommitFailed, err)
	}

	sig, err := c.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send transaction: %v", ErrCommitFailed, err)
	}

	return sig.String(), nil
}
