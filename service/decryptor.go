package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"polling-backend/encryption"
	"polling-backend/models"
	"polling-backend/wallet"
)

// ChallengeParams are the fields of the consent message, in signing order.
type ChallengeParams struct {
	PublicKey       string `json:"public_key"`
	ContractAddress string `json:"contract_address"`
	ChainID         uint64 `json:"chain_id"`
	StartTimestamp  int64  `json:"start_timestamp"`
	DurationDays    int    `json:"duration_days"`
}

// BuildChallenge renders the message the wallet is asked to sign. Field order
// and labels are fixed: signers and verifiers reproduce this exact text.
func BuildChallenge(p ChallengeParams) string {
	return fmt.Sprintf("publickey:%s\ncontractAddresses:%s\ncontractsChainId:%d\nstartTimestamp:%d\ndurationDays:%d",
		p.PublicKey, p.ContractAddress, p.ChainID, p.StartTimestamp, p.DurationDays)
}

// Decryptor reveals token values once the connected wallet signs the session
// challenge. The signature only gates the reveal; it is not bound to the
// token and no key material is derived from it.
type Decryptor struct {
	signer      wallet.Signer
	codec       encryption.Scheme
	session     *DecryptionSession
	revealDelay time.Duration
	logger      zerolog.Logger
}

func NewDecryptor(signer wallet.Signer, codec encryption.Scheme, session *DecryptionSession, revealDelay time.Duration, logger zerolog.Logger) *Decryptor {
	return &Decryptor{
		signer:      signer,
		codec:       codec,
		session:     session,
		revealDelay: revealDelay,
		logger:      logger,
	}
}

// Challenge returns the current consent message.
func (d *Decryptor) Challenge() string {
	return BuildChallenge(d.session.Params())
}

// RequestDecryption asks the wallet to sign the challenge and, if it does,
// decodes token. It waits for the wallet without a timeout of its own.
func (d *Decryptor) RequestDecryption(ctx context.Context, token string) (uint64, error) {
	if !d.signer.IsConnected() {
		return 0, errors.Wrap(models.ErrUnauthenticated, "decrypt")
	}

	if _, err := d.signer.SignMessage(ctx, d.Challenge()); err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return 0, errors.Wrap(models.ErrCancelled, err.Error())
		}
		if errors.Is(err, wallet.ErrNotConnected) {
			return 0, errors.Wrap(models.ErrUnauthenticated, err.Error())
		}
		return 0, errors.Wrap(err, "signature request failed")
	}

	if !d.session.IsActive(time.Now()) {
		d.logger.Warn().Int64("start", d.session.Params().StartTimestamp).Msg("revealing outside the decryption session window")
	}

	if d.revealDelay > 0 {
		select {
		case <-time.After(d.revealDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	value, err := d.codec.Decode(token)
	if err != nil {
		return 0, err
	}
	d.logger.Debug().Msg("token revealed after signed consent")
	return value, nil
}
