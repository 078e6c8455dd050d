package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(id, email, subject string, at time.Time) *MessageMetadata {
	return &MessageMetadata{
		ID:          id,
		SenderEmail: email,
		Subject:     subject,
		ReceivedAt:  at,
	}
}

func TestProfileBuilderOrderIndependent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*MessageMetadata{
		msgAt("m1", "news@example.com", "First", base),
		{ID: "m2", SenderEmail: "news@example.com", SenderName: "Example News", Subject: "Second", ReceivedAt: base.Add(time.Hour), HasListUnsubscribe: true},
		msgAt("m3", "news@example.com", "Third", base.Add(2*time.Hour)),
		{ID: "m4", SenderEmail: "news@example.com", Subject: "Fourth", ReceivedAt: base.Add(3*time.Hour), Precedence: "bulk"},
	}

	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}

	var first *SenderProfile
	for _, order := range orders {
		b := newProfileBuilder("news@example.com")
		for _, i := range order {
			b.Add(msgs[i])
		}
		p := b.Finalize(5)
		if first == nil {
			first = p
			continue
		}
		assert.Equal(t, first, p, "order %v produced a different profile", order)
	}

	require.NotNil(t, first)
	assert.Equal(t, 4, first.MessageCount)
	assert.Equal(t, []string{"m4", "m3", "m2", "m1"}, first.MessageIDs, "newest first")
	assert.Equal(t, []string{"Fourth", "Third", "Second", "First"}, first.SampleSubjects)
	assert.Equal(t, "Example News", first.Name, "first non-empty name in newest-first order")
	assert.True(t, first.Signals.HasListUnsubscribe)
	assert.True(t, first.Signals.HasPrecedenceBulk)
	assert.False(t, first.Signals.IsPromotionsCategory)
}

func TestProfileBuilderTimestampTies(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newProfileBuilder("a@b.com")
	b.Add(msgAt("m2", "a@b.com", "two", at))
	b.Add(msgAt("m1", "a@b.com", "one", at))
	b.Add(msgAt("m3", "a@b.com", "three", at))

	p := b.Finalize(5)
	assert.Equal(t, []string{"m1", "m2", "m3"}, p.MessageIDs, "id order breaks timestamp ties")
}

func TestProfileBuilderSampleLimitAndBlanks(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := newProfileBuilder("a@b.com")
	b.Add(msgAt("m1", "a@b.com", "  ", base.Add(4*time.Hour)))
	b.Add(msgAt("m2", "a@b.com", "kept newest", base.Add(3*time.Hour)))
	b.Add(msgAt("m3", "a@b.com", "kept second", base.Add(2*time.Hour)))
	b.Add(msgAt("m4", "a@b.com", "dropped", base.Add(time.Hour)))

	p := b.Finalize(2)
	assert.Equal(t, []string{"kept newest", "kept second"}, p.SampleSubjects)
	assert.Equal(t, 4, p.MessageCount)
	assert.Len(t, p.MessageIDs, 4)
}

func TestSignatureStability(t *testing.T) {
	a := ScanQuery{Query: "in:inbox", MaxMessages: 500}.Signature()
	b := ScanQuery{Query: "in:inbox", MaxMessages: 500}.Signature()
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, ScanQuery{Query: "in:inbox", MaxMessages: 501}.Signature())
	assert.NotEqual(t, a, ScanQuery{Query: "in:spam", MaxMessages: 500}.Signature())
	assert.NotEqual(t, a, ScanQuery{}.Signature())
}

func TestFilterProfilesKeepsOrderAndBoundary(t *testing.T) {
	r := &ScanResult{Profiles: []*SenderProfile{
		{Email: "a@x.com", Score: 0.9},
		{Email: "b@x.com", Score: 0.5},
		{Email: "c@x.com", Score: 0.49},
	}}

	got := r.FilterProfiles(0.5)
	require.Len(t, got, 2)
	assert.Equal(t, "a@x.com", got[0].Email)
	assert.Equal(t, "b@x.com", got[1].Email, "boundary score is included")

	assert.Len(t, r.FilterProfiles(0), 3)
	assert.Empty(t, r.FilterProfiles(0.95))
}

func TestSortProfiles(t *testing.T) {
	profiles := []*SenderProfile{
		{Email: "b@x.com", Score: 0.5, MessageCount: 3},
		{Email: "a@x.com", Score: 0.5, MessageCount: 3},
		{Email: "c@x.com", Score: 0.9, MessageCount: 1},
		{Email: "d@x.com", Score: 0.5, MessageCount: 8},
	}
	SortProfiles(profiles)

	emails := make([]string, 0, len(profiles))
	for _, p := range profiles {
		emails = append(emails, p.Email)
	}
	assert.Equal(t, []string{"c@x.com", "d@x.com", "a@x.com", "b@x.com"}, emails)
}

func TestSortByClassification(t *testing.T) {
	profiles := []*SenderProfile{
		{Email: "u@x.com", Classification: ClassUncertain, MessageCount: 50},
		{Email: "n2@x.com", Classification: ClassNewsletter, MessageCount: 2},
		{Email: "p@x.com", Classification: ClassPersonal, MessageCount: 99},
		{Email: "l@x.com", Classification: ClassLikelyNewsletter, MessageCount: 10},
		{Email: "n1@x.com", Classification: ClassNewsletter, MessageCount: 7},
	}
	SortByClassification(profiles)

	emails := make([]string, 0, len(profiles))
	for _, p := range profiles {
		emails = append(emails, p.Email)
	}
	assert.Equal(t, []string{"n1@x.com", "n2@x.com", "l@x.com", "u@x.com", "p@x.com"}, emails)
}

func TestProfileDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"alice@Example.COM", "example.com"},
		{"a@b@c.com", "c.com"},
		{"no-domain", ""},
		{"trailing@", ""},
		{"", ""},
	}
	for _, tt := range tests {
		p := &SenderProfile{Email: tt.email}
		assert.Equal(t, tt.want, p.Domain(), "email %q", tt.email)
	}
}

func TestHasPrecedenceBulk(t *testing.T) {
	tests := []struct {
		precedence string
		want       bool
	}{
		{"bulk", true},
		{"Bulk", true},
		{" LIST ", true},
		{"list", true},
		{"first-class", false},
		{"", false},
	}
	for _, tt := range tests {
		m := &MessageMetadata{Precedence: tt.precedence}
		assert.Equal(t, tt.want, m.HasPrecedenceBulk(), "precedence %q", tt.precedence)
	}
}

func TestIsPromotions(t *testing.T) {
	assert.True(t, (&MessageMetadata{Labels: []string{"INBOX", "CATEGORY_PROMOTIONS"}}).IsPromotions())
	assert.False(t, (&MessageMetadata{Labels: []string{"INBOX"}}).IsPromotions())
	assert.False(t, (&MessageMetadata{}).IsPromotions())
}
