package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"polling-backend/models"
	"polling-backend/storage"
	"polling-backend/wallet"
)

// PollingService is the entry point of the polling core. It gates mutations
// on the connected identity, reports progress through the status tracker and
// reloads the ledger after successful writes.
type PollingService struct {
	store     *storage.PollStore
	identity  wallet.Signer
	decryptor *Decryptor
	tracker   *StatusTracker
	metrics   *Metrics
	logger    zerolog.Logger

	reloadAfterWrite bool
}

// Options of a PollingService.
type Options struct {
	SuccessLinger    time.Duration
	ErrorLinger      time.Duration
	ReloadAfterWrite bool
	Metrics          *Metrics
}

// DefaultOptions returns the lingers used by the interactive client.
func DefaultOptions() Options {
	return Options{
		SuccessLinger:    2 * time.Second,
		ErrorLinger:      3 * time.Second,
		ReloadAfterWrite: true,
	}
}

func NewPollingService(store *storage.PollStore, identity wallet.Signer, decryptor *Decryptor, opts Options, logger zerolog.Logger) *PollingService {
	return &PollingService{
		store:            store,
		identity:         identity,
		decryptor:        decryptor,
		tracker:          NewStatusTracker(opts.SuccessLinger, opts.ErrorLinger, opts.Metrics, logger),
		metrics:          opts.Metrics,
		logger:           logger,
		reloadAfterWrite: opts.ReloadAfterWrite,
	}
}

// Load reads both collections from the ledger.
func (s *PollingService) Load(ctx context.Context) error {
	op, err := s.tracker.Begin(ActionLoad, "Loading data...")
	if err != nil {
		return err
	}
	if err := s.store.Load(ctx); err != nil {
		op.Fail(err)
		return err
	}
	s.metrics.setStats(s.store.Stats())
	op.Succeed("Data loaded")
	return nil
}

// CreateTopic appends a topic owned by the connected identity.
func (s *PollingService) CreateTopic(ctx context.Context, title, description string) (models.Topic, error) {
	op, err := s.tracker.Begin(ActionCreateTopic, "Creating topic...")
	if err != nil {
		return models.Topic{}, err
	}

	creator, err := s.creator()
	if err != nil {
		op.Fail(err)
		return models.Topic{}, err
	}
	topic, err := s.store.CreateTopic(ctx, title, description, creator)
	if err != nil {
		op.Fail(err)
		return models.Topic{}, err
	}

	op.Succeed("Topic created successfully!")
	s.afterWrite(ctx)
	return topic, nil
}

// CastVote adds one vote in direction to the topic.
func (s *PollingService) CastVote(ctx context.Context, topicID uint64, direction models.VoteDirection) (models.Topic, error) {
	op, err := s.tracker.Begin(ActionCastVote, "Casting vote...")
	if err != nil {
		return models.Topic{}, err
	}

	if _, err := s.creator(); err != nil {
		op.Fail(err)
		return models.Topic{}, err
	}
	topic, err := s.store.CastVote(ctx, topicID, direction)
	if err != nil {
		op.Fail(err)
		return models.Topic{}, err
	}

	op.Succeed(fmt.Sprintf("Vote %s recorded!", direction))
	s.afterWrite(ctx)
	return topic, nil
}

// SubmitFeedback appends a feedback entry for topicID.
func (s *PollingService) SubmitFeedback(ctx context.Context, topicID uint64, content string) (models.Feedback, error) {
	op, err := s.tracker.Begin(ActionSubmitFeedback, "Submitting feedback...")
	if err != nil {
		return models.Feedback{}, err
	}

	creator, err := s.creator()
	if err != nil {
		op.Fail(err)
		return models.Feedback{}, err
	}
	feedback, err := s.store.SubmitFeedback(ctx, topicID, content, creator)
	if err != nil {
		op.Fail(err)
		return models.Feedback{}, err
	}

	op.Succeed("Feedback submitted successfully!")
	s.afterWrite(ctx)
	return feedback, nil
}

// RequestDecryption reveals the count behind token after signed consent.
func (s *PollingService) RequestDecryption(ctx context.Context, token string) (uint64, error) {
	op, err := s.tracker.Begin(ActionDecrypt, "Requesting decryption signature...")
	if err != nil {
		return 0, err
	}
	value, err := s.decryptor.RequestDecryption(ctx, token)
	if err != nil {
		op.Fail(err)
		return 0, err
	}
	op.Succeed("Decryption successful!")
	return value, nil
}

func (s *PollingService) creator() (string, error) {
	address, ok := s.identity.CurrentAddress()
	if !ok {
		return "", errors.Wrap(models.ErrUnauthenticated, "no connected identity")
	}
	return address.Hex(), nil
}

// afterWrite refreshes from the ledger. A failing reload keeps the state the
// write produced and does not change the reported outcome.
func (s *PollingService) afterWrite(ctx context.Context) {
	if s.reloadAfterWrite {
		if err := s.store.Load(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("reload after write failed")
		}
	}
	s.metrics.setStats(s.store.Stats())
}

func (s *PollingService) Topics() []models.Topic {
	return s.store.Topics()
}

func (s *PollingService) Topic(id uint64) (models.Topic, bool) {
	return s.store.Topic(id)
}

// Feedbacks returns all entries, or those of topicID when it is non-zero.
func (s *PollingService) Feedbacks(topicID uint64) []models.Feedback {
	if topicID == 0 {
		return s.store.Feedbacks()
	}
	return s.store.FeedbacksForTopic(topicID)
}

func (s *PollingService) Stats() models.Stats {
	return s.store.Stats()
}

func (s *PollingService) Status() Status {
	return s.tracker.Current()
}

func (s *PollingService) Challenge() string {
	return s.decryptor.Challenge()
}

// Tracker exposes the status machine, mainly to observe busy flags.
func (s *PollingService) Tracker() *StatusTracker {
	return s.tracker
}
