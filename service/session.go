package service

import (
	"time"
)

// DecryptionSession holds the parameters the consent challenge is built
// from. The window starts at startTime and lasts durationDays.
type DecryptionSession struct {
	publicKey       string
	contractAddress string
	chainID         uint64
	startTime       time.Time
	durationDays    int
}

func NewDecryptionSession(publicKey, contractAddress string, chainID uint64, startTime time.Time, durationDays int) *DecryptionSession {
	return &DecryptionSession{
		publicKey:       publicKey,
		contractAddress: contractAddress,
		chainID:         chainID,
		startTime:       startTime,
		durationDays:    durationDays,
	}
}

// Params returns the challenge fields of the session.
func (s *DecryptionSession) Params() ChallengeParams {
	return ChallengeParams{
		PublicKey:       s.publicKey,
		ContractAddress: s.contractAddress,
		ChainID:         s.chainID,
		StartTimestamp:  s.startTime.Unix(),
		DurationDays:    s.durationDays,
	}
}

// IsActive reports whether now falls inside the session window.
func (s *DecryptionSession) IsActive(now time.Time) bool {
	end := s.startTime.AddDate(0, 0, s.durationDays)
	return !now.Before(s.startTime) && now.Before(end)
}
