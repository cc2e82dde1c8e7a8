// File: storage/poll_store.go
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"polling-backend/encryption"
	"polling-backend/ledger"
	"polling-backend/models"
)

// PollStore owns the in-memory topic and feedback collections and persists
// them to the ledger. Every mutation copies the resident collection, changes
// the copy, writes the whole collection back under its key and only then
// replaces the resident one. There is no version check against the ledger:
// two writers starting from the same load both compute the same next id and
// the later write replaces the earlier one.
type PollStore struct {
	ledger ledger.BlobStore
	codec  encryption.Scheme
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	topics    []models.Topic
	feedbacks []models.Feedback
	stats     models.Stats
}

// Option configures a PollStore.
type Option func(*PollStore)

// WithClock overrides the timestamp source of new entities.
func WithClock(now func() time.Time) Option {
	return func(s *PollStore) { s.now = now }
}

// NewPollStore returns an empty store. Call Load to read the ledger.
func NewPollStore(store ledger.BlobStore, codec encryption.Scheme, logger zerolog.Logger, opts ...Option) *PollStore {
	s := &PollStore{
		ledger:    store,
		codec:     codec,
		logger:    logger,
		now:       time.Now,
		topics:    make([]models.Topic, 0),
		feedbacks: make([]models.Feedback, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches both collections and recomputes the statistics. Missing,
// blank or malformed blobs load as empty collections. Only a failing fetch
// is returned, in which case the resident collections are kept.
func (s *PollStore) Load(ctx context.Context) error {
	if !s.ledger.IsAvailable(ctx) {
		s.logger.Warn().Msg("ledger reports it is not available")
	}

	var topicsBytes, feedbacksBytes []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := s.ledger.GetBlob(gctx, models.TopicsKey)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch %s", models.TopicsKey)
		}
		topicsBytes = data
		return nil
	})
	g.Go(func() error {
		data, err := s.ledger.GetBlob(gctx, models.FeedbacksKey)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch %s", models.FeedbacksKey)
		}
		feedbacksBytes = data
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	topics := decodeCollection[models.Topic](topicsBytes, models.TopicsKey, s.logger)
	feedbacks := decodeCollection[models.Feedback](feedbacksBytes, models.FeedbacksKey, s.logger)

	s.mu.Lock()
	s.topics = topics
	s.feedbacks = feedbacks
	s.stats = models.ComputeStats(topics, feedbacks)
	stats := s.stats
	s.mu.Unlock()

	s.logger.Debug().
		Int("topics", stats.TotalTopics).
		Int("feedbacks", stats.TotalFeedbacks).
		Uint64("votes", stats.TotalVotes).
		Msg("loaded poll state")
	return nil
}

// decodeCollection never fails: unreadable data is logged and treated as an
// empty collection.
func decodeCollection[T any](data []byte, key string, logger zerolog.Logger) []T {
	items := make([]T, 0)
	if len(bytes.TrimSpace(data)) == 0 {
		return items
	}

	var decoded []T
	if err := json.Unmarshal(data, &decoded); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("ignoring malformed collection")
		return items
	}
	return append(items, decoded...)
}

// CreateTopic appends a topic with no votes and persists the topic collection.
func (s *PollStore) CreateTopic(ctx context.Context, title, description, creator string) (models.Topic, error) {
	if creator == "" {
		return models.Topic{}, errors.Wrap(models.ErrUnauthenticated, "create topic")
	}
	if strings.TrimSpace(title) == "" {
		return models.Topic{}, errors.Wrap(models.ErrValidation, "topic title is empty")
	}

	topics := s.snapshotTopics()
	topic := models.Topic{
		ID:             uint64(len(topics)) + 1,
		Title:          title,
		Description:    description,
		EncryptedVotes: s.codec.Encode(0),
		Upvotes:        0,
		Downvotes:      0,
		Timestamp:      s.now().Unix(),
		Creator:        creator,
	}
	topics = append(topics, topic)

	if err := s.persist(ctx, models.TopicsKey, topics); err != nil {
		return models.Topic{}, err
	}
	s.replaceTopics(topics)

	s.logger.Info().Uint64("topic", topic.ID).Str("creator", creator).Msg("topic created")
	return topic, nil
}

// SubmitFeedback appends a feedback entry and persists the feedback
// collection. The topic id is not checked against the topic collection.
func (s *PollStore) SubmitFeedback(ctx context.Context, topicID uint64, content, creator string) (models.Feedback, error) {
	if creator == "" {
		return models.Feedback{}, errors.Wrap(models.ErrUnauthenticated, "submit feedback")
	}
	if topicID == 0 {
		return models.Feedback{}, errors.Wrap(models.ErrValidation, "no topic selected")
	}
	if strings.TrimSpace(content) == "" {
		return models.Feedback{}, errors.Wrap(models.ErrValidation, "feedback content is empty")
	}

	feedbacks := s.snapshotFeedbacks()
	feedback := models.Feedback{
		ID:             uint64(len(feedbacks)) + 1,
		TopicID:        topicID,
		Content:        content,
		EncryptedScore: s.codec.Encode(1),
		Timestamp:      s.now().Unix(),
		Creator:        creator,
	}
	feedbacks = append(feedbacks, feedback)

	if err := s.persist(ctx, models.FeedbacksKey, feedbacks); err != nil {
		return models.Feedback{}, err
	}
	s.replaceFeedbacks(feedbacks)

	s.logger.Info().Uint64("feedback", feedback.ID).Uint64("topic", topicID).Msg("feedback submitted")
	return feedback, nil
}

// CastVote increments one counter of a topic, re-encodes the vote total from
// the plaintext counters and persists the topic collection.
func (s *PollStore) CastVote(ctx context.Context, topicID uint64, direction models.VoteDirection) (models.Topic, error) {
	topics := s.snapshotTopics()

	idx := -1
	for i := range topics {
		if topics[i].ID == topicID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return models.Topic{}, errors.Wrapf(models.ErrNotFound, "topic %d", topicID)
	}

	topic := &topics[idx]
	switch direction {
	case models.VoteUp:
		topic.Upvotes++
	case models.VoteDown:
		topic.Downvotes++
	default:
		return models.Topic{}, errors.Wrapf(models.ErrValidation, "unknown vote direction %q", direction)
	}
	topic.EncryptedVotes = s.codec.Encode(topic.TotalVotes())

	if err := s.persist(ctx, models.TopicsKey, topics); err != nil {
		return models.Topic{}, err
	}
	s.replaceTopics(topics)

	s.logger.Info().Uint64("topic", topicID).Str("direction", string(direction)).Msg("vote recorded")
	return *topic, nil
}

func (s *PollStore) persist(ctx context.Context, key string, collection interface{}) error {
	data, err := json.Marshal(collection)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", key)
	}
	if err := s.ledger.SetBlob(ctx, key, data); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("collection not persisted")
		return err
	}
	return nil
}

func (s *PollStore) snapshotTopics() []models.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]models.Topic, 0, len(s.topics)+1), s.topics...)
}

func (s *PollStore) snapshotFeedbacks() []models.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]models.Feedback, 0, len(s.feedbacks)+1), s.feedbacks...)
}

func (s *PollStore) replaceTopics(topics []models.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = topics
	s.stats = models.ComputeStats(s.topics, s.feedbacks)
}

func (s *PollStore) replaceFeedbacks(feedbacks []models.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbacks = feedbacks
	s.stats = models.ComputeStats(s.topics, s.feedbacks)
}

// Topics returns a copy of the resident topics.
func (s *PollStore) Topics() []models.Topic {
	return s.snapshotTopics()
}

// Topic returns the resident topic with id.
func (s *PollStore) Topic(id uint64) (models.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.topics {
		if t.ID == id {
			return t, true
		}
	}
	return models.Topic{}, false
}

// Feedbacks returns a copy of the resident feedback entries.
func (s *PollStore) Feedbacks() []models.Feedback {
	return s.snapshotFeedbacks()
}

// FeedbacksForTopic returns the resident feedback entries of one topic.
func (s *PollStore) FeedbacksForTopic(topicID uint64) []models.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Feedback, 0)
	for _, f := range s.feedbacks {
		if f.TopicID == topicID {
			out = append(out, f)
		}
	}
	return out
}

// Stats returns the statistics of the resident collections.
func (s *PollStore) Stats() models.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
