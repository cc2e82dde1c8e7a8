// File: models/types.go
package models

// Ledger keys under which the two collections are persisted.
const (
	TopicsKey    = "topics"
	FeedbacksKey = "feedbacks"
)

// Topic is a discussion subject participants can vote on. EncryptedVotes always
// decodes to Upvotes+Downvotes once a mutation has completed.
type Topic struct {
	ID             uint64 `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	EncryptedVotes string `json:"encryptedVotes"`
	Upvotes        uint64 `json:"upvotes"`
	Downvotes      uint64 `json:"downvotes"`
	Timestamp      int64  `json:"timestamp"`
	Creator        string `json:"creator"`
}

// TotalVotes returns the plaintext vote total the encrypted tally mirrors.
func (t Topic) TotalVotes() uint64 {
	return t.Upvotes + t.Downvotes
}

// Percentages returns the support and oppose shares in percent. A topic
// without votes reports 0 for both.
func (t Topic) Percentages() (support, oppose float64) {
	total := t.TotalVotes()
	if total == 0 {
		return 0, 0
	}
	return float64(t.Upvotes) / float64(total) * 100, float64(t.Downvotes) / float64(total) * 100
}

// Feedback is a free-text comment on a topic. Content is stored in plaintext,
// only the score is token-encoded.
type Feedback struct {
	ID             uint64 `json:"id"`
	TopicID        uint64 `json:"topicId"`
	Content        string `json:"content"`
	EncryptedScore string `json:"encryptedScore"`
	Timestamp      int64  `json:"timestamp"`
	Creator        string `json:"creator"`
}

// Stats are the aggregates derived on every load.
type Stats struct {
	TotalTopics    int    `json:"total_topics"`
	TotalFeedbacks int    `json:"total_feedbacks"`
	TotalVotes     uint64 `json:"total_votes"`
}

// ComputeStats derives the aggregate statistics of both collections.
func ComputeStats(topics []Topic, feedbacks []Feedback) Stats {
	stats := Stats{
		TotalTopics:    len(topics),
		TotalFeedbacks: len(feedbacks),
	}
	for _, t := range topics {
		stats.TotalVotes += t.TotalVotes()
	}
	return stats
}
