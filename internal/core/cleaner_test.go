package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTrasher records TrashMessages calls. Ids listed in failIDs fail; the
// call at index authAt (1-based) fails with an AuthError instead.
type fakeTrasher struct {
	calls   [][]string
	failIDs map[string]error
	callErr error
	authAt  int
}

func (f *fakeTrasher) TrashMessages(ctx context.Context, ids []string, _ ProgressFunc) (int, map[string]error, error) {
	call := len(f.calls) + 1
	f.calls = append(f.calls, append([]string(nil), ids...))

	if f.authAt != 0 && call == f.authAt {
		return 0, nil, &AuthError{Reason: "token revoked"}
	}

	trashed := 0
	failed := make(map[string]error)
	for _, id := range ids {
		if err, ok := f.failIDs[id]; ok {
			failed[id] = err
		} else {
			trashed++
		}
	}
	var err error
	if len(failed) > 0 {
		err = f.callErr
	}
	return trashed, failed, err
}

type fakeAudit struct {
	entries   []*TrashLogEntry
	appendErr error
}

func (a *fakeAudit) Append(ctx context.Context, entry *TrashLogEntry) error {
	if a.appendErr != nil {
		return a.appendErr
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) Entries(ctx context.Context) ([]*TrashLogEntry, error) {
	return a.entries, nil
}

type fakeGuard map[string]bool

func (g fakeGuard) IsProtected(domain string) bool { return g[domain] }

func candidateProfile(email string, score float64, class Classification, ids ...string) *SenderProfile {
	return &SenderProfile{
		Email:          email,
		MessageCount:   len(ids),
		MessageIDs:     ids,
		Score:          score,
		Classification: class,
	}
}

func testScanResult() *ScanResult {
	return &ScanResult{
		Query: "in:inbox",
		Profiles: []*SenderProfile{
			candidateProfile("deals@shop.example", 0.9, ClassNewsletter, "s1", "s2", "s3"),
			candidateProfile("updates@app.example", 0.55, ClassLikelyNewsletter, "u1", "u2"),
			candidateProfile("digest@news.example", 0.35, ClassUncertain, "d1"),
			candidateProfile("alice@gmail.com", 0.1, ClassPersonal, "a1"),
			candidateProfile("billing@bank.example", 0.95, ClassNewsletter, "b1", "b2"),
		},
	}
}

func newTestWorkflow(mailbox Mailbox, audit AuditLog, guard DomainGuard, opts CleanupOptions) *CleanupWorkflow {
	if opts.ConfirmToken == "" {
		opts.ConfirmToken = "TRASH"
	}
	return NewCleanupWorkflow(mailbox, audit, guard, defaultScorer(), zap.NewNop(), opts)
}

func TestPresentFiltersAndOrders(t *testing.T) {
	guard := fakeGuard{"bank.example": true}
	w := newTestWorkflow(nil, &fakeAudit{}, guard, CleanupOptions{MinScore: 0.5, DryRun: true})

	candidates, err := w.Present(testScanResult())
	require.NoError(t, err)
	assert.Equal(t, StateSendersPresented, w.State())

	// Protected bank sender and everything under 0.5 are gone; newsletter
	// group leads.
	require.Len(t, candidates, 2)
	assert.Equal(t, "deals@shop.example", candidates[0].Email)
	assert.Equal(t, "updates@app.example", candidates[1].Email)
}

func TestPresentNeverDropsBelowUncertainFloor(t *testing.T) {
	w := newTestWorkflow(nil, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.05, DryRun: true})

	candidates, err := w.Present(testScanResult())
	require.NoError(t, err)

	for _, p := range candidates {
		assert.GreaterOrEqual(t, p.Score, 0.3, "sender %s", p.Email)
	}
	for _, p := range candidates {
		assert.NotEqual(t, "alice@gmail.com", p.Email, "personal senders are never proposed")
	}
}

func TestPresentWrongState(t *testing.T) {
	w := newTestWorkflow(nil, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.5, DryRun: true})
	_, err := w.Present(testScanResult())
	require.NoError(t, err)

	_, err = w.Present(testScanResult())
	assert.Error(t, err)
}

func TestSelectIndicesAndAll(t *testing.T) {
	w := newTestWorkflow(nil, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.3, DryRun: true})
	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	require.Len(t, w.Candidates(), 4)

	selected, err := w.Select(" 2 , 1 ")
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, w.Candidates()[1].Email, selected[0].Email, "selection follows token order")
	assert.Equal(t, w.Candidates()[0].Email, selected[1].Email)
	assert.Equal(t, StateSelectionMade, w.State())

	// Re-selecting is allowed until confirmation; duplicates collapse.
	selected, err = w.Select("3,3,3")
	require.NoError(t, err)
	assert.Len(t, selected, 1)

	selected, err = w.Select("all")
	require.NoError(t, err)
	assert.Len(t, selected, 4)
	assert.Equal(t, 8, w.SelectedMessageCount())
}

func TestSelectInvalidRejectsWhole(t *testing.T) {
	w := newTestWorkflow(nil, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.5, DryRun: true})
	_, err := w.Present(testScanResult())
	require.NoError(t, err)

	tests := []struct {
		input string
		index string
	}{
		{"1,9", "9"},
		{"0", "0"},
		{"abc", "abc"},
		{"1,,2", ""},
		{"", ""},
	}
	for _, tt := range tests {
		_, err := w.Select(tt.input)
		require.Error(t, err, "input %q", tt.input)
		var selErr *InvalidSelectionError
		require.ErrorAs(t, err, &selErr, "input %q", tt.input)
		assert.Equal(t, tt.index, selErr.Index, "input %q", tt.input)
		assert.Equal(t, StateSendersPresented, w.State(), "state must not change on invalid input")
		assert.Empty(t, w.Selected())
	}

	// A valid selection still works after rejections.
	_, err = w.Select("1")
	assert.NoError(t, err)
}

func TestConfirmMismatchCancelsWithoutSideEffects(t *testing.T) {
	mailbox := &fakeTrasher{}
	audit := &fakeAudit{}
	w := newTestWorkflow(mailbox, audit, nil, CleanupOptions{MinScore: 0.5})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("all")
	require.NoError(t, err)
	require.NoError(t, w.RequestConfirmation())

	err = w.Confirm("trash")
	assert.ErrorIs(t, err, ErrConfirmationMismatch, "token is case-sensitive")
	assert.Equal(t, StateCancelled, w.State())
	assert.Empty(t, mailbox.calls)
	assert.Empty(t, audit.entries)

	_, err = w.Execute(context.Background(), nil)
	assert.Error(t, err, "cancelled workflow cannot execute")
	assert.Empty(t, mailbox.calls)
}

func TestConfirmAcceptsTrimmedToken(t *testing.T) {
	w := newTestWorkflow(&fakeTrasher{}, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.5})
	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("1")
	require.NoError(t, err)
	require.NoError(t, w.RequestConfirmation())
	assert.Equal(t, StateConfirmationPending, w.State())

	require.NoError(t, w.Confirm("  TRASH  "))
	assert.Equal(t, StateExecuting, w.State())
}

func TestDryRunTouchesNothing(t *testing.T) {
	audit := &fakeAudit{}
	w := newTestWorkflow(nil, audit, nil, CleanupOptions{MinScore: 0.5, DryRun: true})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("all")
	require.NoError(t, err)

	rep, err := w.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, rep.DryRun)
	assert.Equal(t, 3, len(rep.Senders))
	assert.Equal(t, 7, rep.TotalRequested)
	assert.Equal(t, 0, rep.TotalTrashed)
	assert.Empty(t, audit.entries, "dry run must not append audit entries")
	assert.Equal(t, StateCompleted, w.State())
}

func TestExecuteTrashesAndAudits(t *testing.T) {
	mailbox := &fakeTrasher{}
	audit := &fakeAudit{}
	w := newTestWorkflow(mailbox, audit, nil, CleanupOptions{MinScore: 0.5})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("all")
	require.NoError(t, err)
	require.NoError(t, w.RequestConfirmation())
	require.NoError(t, w.Confirm("TRASH"))

	rep, err := w.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, w.State())

	require.Len(t, mailbox.calls, 3, "one trash call per sender")
	assert.Equal(t, []string{"s1", "s2", "s3"}, mailbox.calls[0])

	assert.Equal(t, 7, rep.TotalRequested)
	assert.Equal(t, 7, rep.TotalTrashed)
	assert.Equal(t, 0, rep.TotalFailed)

	require.Len(t, audit.entries, 3)
	first := audit.entries[0]
	assert.Equal(t, "deals@shop.example", first.SenderEmail)
	assert.Equal(t, 3, first.MessageCount)
	assert.Equal(t, []string{"s1", "s2", "s3"}, first.MessageIDs)
	assert.Equal(t, "in:inbox", first.QueryContext)
	assert.False(t, first.Timestamp.IsZero())
}

func TestExecutePartialFailureAcrossSenders(t *testing.T) {
	// Sender 2's messages all fail; sender 1 and 3 succeed.
	mailbox := &fakeTrasher{
		failIDs: map[string]error{"u1": errors.New("denied"), "u2": errors.New("denied")},
		callErr: errors.New("batch partly failed"),
	}
	audit := &fakeAudit{}
	w := newTestWorkflow(mailbox, audit, nil, CleanupOptions{MinScore: 0.3})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("all")
	require.NoError(t, err)
	require.NoError(t, w.RequestConfirmation())
	require.NoError(t, w.Confirm("TRASH"))

	rep, err := w.Execute(context.Background(), nil)
	require.NoError(t, err, "non-auth failures never abort the run")
	assert.Equal(t, StateCompleted, w.State())

	require.Len(t, rep.Senders, 4)
	var updates *SenderOutcome
	for i := range rep.Senders {
		if rep.Senders[i].Email == "updates@app.example" {
			updates = &rep.Senders[i]
		}
	}
	require.NotNil(t, updates)
	assert.Equal(t, 2, updates.Requested)
	assert.Equal(t, 0, updates.Trashed)
	assert.Equal(t, 2, updates.Failed)

	assert.Equal(t, 8, rep.TotalRequested)
	assert.Equal(t, 6, rep.TotalTrashed)
	assert.Equal(t, 2, rep.TotalFailed)

	// Audit covers the senders with successes and skips the failed one.
	require.Len(t, audit.entries, 3)
	for _, e := range audit.entries {
		assert.NotEqual(t, "updates@app.example", e.SenderEmail)
	}
}

func TestExecutePartialFailureWithinSender(t *testing.T) {
	mailbox := &fakeTrasher{
		failIDs: map[string]error{"s2": errors.New("denied")},
		callErr: errors.New("batch partly failed"),
	}
	audit := &fakeAudit{}
	w := newTestWorkflow(mailbox, audit, nil, CleanupOptions{MinScore: 0.5})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("1")
	require.NoError(t, err)
	require.NoError(t, w.RequestConfirmation())
	require.NoError(t, w.Confirm("TRASH"))

	rep, err := w.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, rep.Senders, 1)
	assert.Equal(t, 3, rep.Senders[0].Requested)
	assert.Equal(t, 2, rep.Senders[0].Trashed)
	assert.Equal(t, 1, rep.Senders[0].Failed)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, 2, audit.entries[0].MessageCount, "audit counts only real trashes")
	assert.Equal(t, []string{"s1", "s3"}, audit.entries[0].MessageIDs, "order preserved, failures dropped")
}

func TestExecuteAuthErrorAborts(t *testing.T) {
	mailbox := &fakeTrasher{authAt: 1}
	audit := &fakeAudit{}
	w := newTestWorkflow(mailbox, audit, nil, CleanupOptions{MinScore: 0.5})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("all")
	require.NoError(t, err)
	require.NoError(t, w.RequestConfirmation())
	require.NoError(t, w.Confirm("TRASH"))

	rep, err := w.Execute(context.Background(), nil)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, StateCancelled, w.State())
	assert.Len(t, mailbox.calls, 1, "remaining senders are not attempted")
	require.NotNil(t, rep)
	assert.Len(t, rep.Senders, 1)
	assert.Empty(t, audit.entries)
}

func TestExecuteAuditFailureSurfaces(t *testing.T) {
	mailbox := &fakeTrasher{}
	audit := &fakeAudit{appendErr: errors.New("disk full")}
	w := newTestWorkflow(mailbox, audit, nil, CleanupOptions{MinScore: 0.5})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("1")
	require.NoError(t, err)
	require.NoError(t, w.RequestConfirmation())
	require.NoError(t, w.Confirm("TRASH"))

	_, err = w.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append trash log")
}

func TestExecuteRequiresConfirmation(t *testing.T) {
	mailbox := &fakeTrasher{}
	w := newTestWorkflow(mailbox, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.5})

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	_, err = w.Select("all")
	require.NoError(t, err)

	_, err = w.Execute(context.Background(), nil)
	assert.Error(t, err, "execute mode must pass the confirmation gate")
	assert.Empty(t, mailbox.calls)
}

func TestRequestConfirmationNeedsSelection(t *testing.T) {
	w := newTestWorkflow(&fakeTrasher{}, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.5})
	assert.Error(t, w.RequestConfirmation(), "wrong state")

	_, err := w.Present(testScanResult())
	require.NoError(t, err)
	assert.Error(t, w.RequestConfirmation(), "no selection yet")
}

func TestCancelBeforeExecution(t *testing.T) {
	w := newTestWorkflow(&fakeTrasher{}, &fakeAudit{}, nil, CleanupOptions{MinScore: 0.5})
	_, err := w.Present(testScanResult())
	require.NoError(t, err)

	w.Cancel()
	assert.Equal(t, StateCancelled, w.State())

	_, err = w.Select("1")
	assert.Error(t, err)
}
