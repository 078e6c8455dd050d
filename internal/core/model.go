package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Classification buckets a sender by how confident we are that it is bulk mail
type Classification string

const (
	ClassNewsletter       Classification = "newsletter"
	ClassLikelyNewsletter Classification = "likely_newsletter"
	ClassUncertain        Classification = "uncertain"
	ClassPersonal         Classification = "personal"
)

// MessageMetadata is the header-level view of a single message. It is built
// once at the client boundary and never mutated afterwards.
type MessageMetadata struct {
	ID                 string
	SenderName         string
	SenderEmail        string
	Subject            string
	ReceivedAt         time.Time
	HasListUnsubscribe bool
	Precedence         string
	Labels             []string
}

// HasPrecedenceBulk reports whether the Precedence header marks the message
// as bulk or list traffic.
func (m *MessageMetadata) HasPrecedenceBulk() bool {
	switch strings.ToLower(strings.TrimSpace(m.Precedence)) {
	case "bulk", "list":
		return true
	}
	return false
}

// IsPromotions reports whether the provider categorized the message as
// promotional. Providers without category labels simply never set it.
func (m *MessageMetadata) IsPromotions() bool {
	for _, l := range m.Labels {
		if l == "CATEGORY_PROMOTIONS" {
			return true
		}
	}
	return false
}

// SenderSignals are the aggregated per-sender scoring inputs. Each boolean is
// an OR over the sender's messages, so adding a message never clears a signal.
type SenderSignals struct {
	HasListUnsubscribe   bool `json:"has_list_unsubscribe"`
	HasPrecedenceBulk    bool `json:"has_precedence_bulk"`
	IsAutomatedPattern   bool `json:"is_automated_pattern"`
	IsHighVolume         bool `json:"is_high_volume"`
	IsPromotionsCategory bool `json:"is_promotions_category"`
}

// SenderProfile aggregates everything known about one sender address within
// a scan.
type SenderProfile struct {
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	MessageCount   int            `json:"message_count"`
	MessageIDs     []string       `json:"message_ids"`
	SampleSubjects []string       `json:"sample_subjects"`
	Signals        SenderSignals  `json:"signals"`
	Score          float64        `json:"score"`
	Classification Classification `json:"classification"`
}

// Domain returns the part after the last @, lowercased, or "" when the
// address has no domain.
func (p *SenderProfile) Domain() string {
	idx := strings.LastIndex(p.Email, "@")
	if idx < 0 || idx == len(p.Email)-1 {
		return ""
	}
	return strings.ToLower(p.Email[idx+1:])
}

// ScanQuery identifies a scan request. Two queries with the same signature
// are interchangeable for caching purposes.
type ScanQuery struct {
	Query       string
	MaxMessages int
}

// Signature returns a stable identifier for the query. The version prefix
// guards cached rows against future signature layout changes.
func (q ScanQuery) Signature() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("v1|%s|%d", q.Query, q.MaxMessages)))
	return hex.EncodeToString(sum[:])
}

// ScanResult is the immutable outcome of one mailbox scan. Profiles are kept
// unfiltered; score thresholds are applied at display and export time.
type ScanResult struct {
	Signature     string           `json:"signature"`
	Query         string           `json:"query"`
	MaxMessages   int              `json:"max_messages"`
	ScannedAt     time.Time        `json:"scanned_at"`
	TotalMessages int              `json:"total_messages"`
	Unreadable    int              `json:"unreadable"`
	Profiles      []*SenderProfile `json:"profiles"`
}

// FilterProfiles returns the profiles scoring at or above minScore, keeping
// the result's ordering.
func (r *ScanResult) FilterProfiles(minScore float64) []*SenderProfile {
	filtered := make([]*SenderProfile, 0, len(r.Profiles))
	for _, p := range r.Profiles {
		if p.Score >= minScore {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// TrashLogEntry records one sender's trash action in the audit log.
type TrashLogEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SenderEmail  string    `json:"sender_email"`
	SenderName   string    `json:"sender_name"`
	MessageCount int       `json:"message_count"`
	MessageIDs   []string  `json:"message_ids"`
	QueryContext string    `json:"query_context"`
}

// profileBuilder accumulates a sender's messages during grouping. Members are
// sorted at finalization so the outcome does not depend on fetch order.
type profileBuilder struct {
	email   string
	members []profileMember
	signals SenderSignals
}

type profileMember struct {
	id         string
	name       string
	subject    string
	receivedAt time.Time
}

func newProfileBuilder(email string) *profileBuilder {
	return &profileBuilder{email: email}
}

// Add folds one message into the builder. Signal bits only ever turn on, so
// Add commutes.
func (b *profileBuilder) Add(m *MessageMetadata) {
	b.members = append(b.members, profileMember{
		id:         m.ID,
		name:       m.SenderName,
		subject:    m.Subject,
		receivedAt: m.ReceivedAt,
	})
	if m.HasListUnsubscribe {
		b.signals.HasListUnsubscribe = true
	}
	if m.HasPrecedenceBulk() {
		b.signals.HasPrecedenceBulk = true
	}
	if m.IsPromotions() {
		b.signals.IsPromotionsCategory = true
	}
}

// Finalize orders the members newest-first (message id breaks timestamp ties)
// and derives the profile fields from that order.
func (b *profileBuilder) Finalize(sampleLimit int) *SenderProfile {
	sort.Slice(b.members, func(i, j int) bool {
		if !b.members[i].receivedAt.Equal(b.members[j].receivedAt) {
			return b.members[i].receivedAt.After(b.members[j].receivedAt)
		}
		return b.members[i].id < b.members[j].id
	})

	p := &SenderProfile{
		Email:        b.email,
		MessageCount: len(b.members),
		MessageIDs:   make([]string, 0, len(b.members)),
		Signals:      b.signals,
	}
	for _, m := range b.members {
		p.MessageIDs = append(p.MessageIDs, m.id)
		if p.Name == "" && m.name != "" {
			p.Name = m.name
		}
		if len(p.SampleSubjects) < sampleLimit && strings.TrimSpace(m.subject) != "" {
			p.SampleSubjects = append(p.SampleSubjects, m.subject)
		}
	}
	return p
}

// SortProfiles orders profiles for a ScanResult: score descending, then
// message count descending, then email ascending so equal senders always
// land in the same place.
func SortProfiles(profiles []*SenderProfile) {
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Score != profiles[j].Score {
			return profiles[i].Score > profiles[j].Score
		}
		if profiles[i].MessageCount != profiles[j].MessageCount {
			return profiles[i].MessageCount > profiles[j].MessageCount
		}
		return profiles[i].Email < profiles[j].Email
	})
}

// classRank orders classifications from most to least confident.
func classRank(c Classification) int {
	switch c {
	case ClassNewsletter:
		return 0
	case ClassLikelyNewsletter:
		return 1
	case ClassUncertain:
		return 2
	default:
		return 3
	}
}

// SortByClassification orders profiles the way cleanup and export present
// them: strongest classification first, then message count descending, then
// email ascending.
func SortByClassification(profiles []*SenderProfile) {
	sort.Slice(profiles, func(i, j int) bool {
		a, b := profiles[i], profiles[j]
		if classRank(a.Classification) != classRank(b.Classification) {
			return classRank(a.Classification) < classRank(b.Classification)
		}
		if a.MessageCount != b.MessageCount {
			return a.MessageCount > b.MessageCount
		}
		return a.Email < b.Email
	})
}
