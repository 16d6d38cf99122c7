package training

import "time"

// Training lifecycle states. Transitions are monotonic
// (learning → ready → active) except active ⇄ paused.
const (
	StatusLearning = "learning"
	StatusReady    = "ready"
	StatusActive   = "active"
	StatusPaused   = "paused"
)

// Knowledge categories recognized by the passive extractor.
const (
	CategoryFAQ               = "faq"
	CategoryResponsePattern   = "response_pattern"
	CategoryCompanyInfo       = "company_info"
	CategoryObjectionHandling = "objection_handling"
	CategoryProductInfo       = "product_info"
)

// Categories lists all knowledge categories.
var Categories = []string{
	CategoryFAQ,
	CategoryResponsePattern,
	CategoryCompanyInfo,
	CategoryObjectionHandling,
	CategoryProductInfo,
}

// ConfidenceThreshold is the minimum classification confidence for a
// reply to be stored as learned content.
const ConfidenceThreshold = 0.6

// Status is the per-tenant training lifecycle row.
type Status struct {
	TenantID            string
	Status              string
	StartedAt           time.Time
	ReadyAt             time.Time
	ActivatedAt         time.Time
	MessagesAnalyzed    int
	MinDaysRequired     int
	MinMessagesRequired int
	ConfidenceScore     float32
	CategoryCounts      map[string]int
}

// ReadyEligible reports whether the learning phase has met both the
// elapsed-days and analyzed-messages requirements.
func (s Status) ReadyEligible(now time.Time) bool {
	if s.Status != StatusLearning {
		return false
	}
	elapsedDays := int(now.Sub(s.StartedAt).Hours() / 24)
	return elapsedDays >= s.MinDaysRequired && s.MessagesAnalyzed >= s.MinMessagesRequired
}

// Confidence scores learning progress in [0,1]: analyzed-message volume
// against the minimum, scaled by how many knowledge categories have
// content. A tenant that only ever answers FAQs stays below full
// confidence no matter how many messages it accumulates.
func (s Status) Confidence() float32 {
	if s.MinMessagesRequired <= 0 || len(Categories) == 0 {
		return 0
	}
	volume := float32(s.MessagesAnalyzed) / float32(s.MinMessagesRequired)
	if volume > 1 {
		volume = 1
	}
	covered := 0
	for _, category := range Categories {
		if s.CategoryCounts[category] > 0 {
			covered++
		}
	}
	return volume * float32(covered) / float32(len(Categories))
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to string) bool {
	switch from {
	case StatusLearning:
		return to == StatusReady
	case StatusReady:
		return to == StatusActive
	case StatusActive:
		return to == StatusPaused
	case StatusPaused:
		return to == StatusActive
	default:
		return false
	}
}

// LearnedItem is one reusable knowledge fragment extracted from an
// agent reply.
type LearnedItem struct {
	ID                 string
	TenantID           string
	ContentType        string
	Question           string
	Answer             string
	OccurrenceCount    int
	EffectivenessScore float32
}
