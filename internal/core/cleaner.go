package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CleanupState is the position of a cleanup workflow in its lifecycle.
type CleanupState string

const (
	StateIdle                CleanupState = "idle"
	StateSendersPresented    CleanupState = "senders_presented"
	StateSelectionMade       CleanupState = "selection_made"
	StateConfirmationPending CleanupState = "confirmation_pending"
	StateExecuting           CleanupState = "executing"
	StateCompleted           CleanupState = "completed"
	StateCancelled           CleanupState = "cancelled"
)

// DomainGuard answers whether a sender domain must never be proposed for
// cleanup.
type DomainGuard interface {
	IsProtected(domain string) bool
}

// CleanupOptions tunes one cleanup run.
type CleanupOptions struct {
	MinScore     float64
	ConfirmToken string
	DryRun       bool
}

// SenderOutcome is the per-sender result of an executed cleanup.
type SenderOutcome struct {
	Email     string
	Name      string
	Requested int
	Trashed   int
	Failed    int
}

// CleanupReport summarizes a cleanup run with exact counts.
type CleanupReport struct {
	DryRun         bool
	Senders        []SenderOutcome
	TotalRequested int
	TotalTrashed   int
	TotalFailed    int
}

// CleanupWorkflow walks the trash flow through its states. Transitions are
// explicit; a method called in the wrong state fails without side effects.
// Nothing is mutated remotely before Confirm succeeds, and nothing at all in
// dry-run mode.
type CleanupWorkflow struct {
	mailbox Mailbox
	audit   AuditLog
	guard   DomainGuard
	scorer  *Scorer
	logger  *zap.Logger
	opts    CleanupOptions

	state        CleanupState
	queryContext string
	candidates   []*SenderProfile
	selected     []*SenderProfile
}

// Mailbox is the subset of MailboxClient the cleanup needs. A dry run may
// carry a nil Mailbox since it never calls it.
type Mailbox interface {
	TrashMessages(ctx context.Context, ids []string, progress ProgressFunc) (int, map[string]error, error)
}

// NewCleanupWorkflow creates a workflow in the idle state.
func NewCleanupWorkflow(
	mailbox Mailbox,
	audit AuditLog,
	guard DomainGuard,
	scorer *Scorer,
	logger *zap.Logger,
	opts CleanupOptions,
) *CleanupWorkflow {
	return &CleanupWorkflow{
		mailbox: mailbox,
		audit:   audit,
		guard:   guard,
		scorer:  scorer,
		logger:  logger,
		opts:    opts,
		state:   StateIdle,
	}
}

// State returns the current workflow state.
func (w *CleanupWorkflow) State() CleanupState { return w.state }

// Candidates returns the senders presented for selection.
func (w *CleanupWorkflow) Candidates() []*SenderProfile { return w.candidates }

// Selected returns the senders picked by the last successful Select.
func (w *CleanupWorkflow) Selected() []*SenderProfile { return w.selected }

// SelectedMessageCount returns the total messages covered by the selection.
func (w *CleanupWorkflow) SelectedMessageCount() int {
	total := 0
	for _, p := range w.selected {
		total += len(p.MessageIDs)
	}
	return total
}

// Present derives the cleanup candidates from a scan result. The effective
// threshold never drops below the uncertain floor, so personal senders are
// never proposed regardless of the configured minimum. Protected domains are
// excluded.
func (w *CleanupWorkflow) Present(result *ScanResult) ([]*SenderProfile, error) {
	if w.state != StateIdle {
		return nil, fmt.Errorf("cannot present senders in state %s", w.state)
	}

	threshold := max(w.opts.MinScore, w.scorer.UncertainThreshold())
	candidates := make([]*SenderProfile, 0)
	for _, p := range result.Profiles {
		if p.Score < threshold {
			continue
		}
		if w.guard != nil && w.guard.IsProtected(p.Domain()) {
			w.logger.Info("Skipping protected sender",
				zap.String("sender", p.Email),
				zap.String("domain", p.Domain()))
			continue
		}
		candidates = append(candidates, p)
	}
	SortByClassification(candidates)

	w.queryContext = result.Query
	w.candidates = candidates
	w.state = StateSendersPresented
	return candidates, nil
}

// Select parses a selection: "all" or comma-separated 1-based indices into
// the candidate list. Any invalid entry rejects the whole selection and
// leaves the state unchanged.
func (w *CleanupWorkflow) Select(input string) ([]*SenderProfile, error) {
	if w.state != StateSendersPresented && w.state != StateSelectionMade {
		return nil, fmt.Errorf("cannot select senders in state %s", w.state)
	}

	trimmed := strings.TrimSpace(input)
	if strings.EqualFold(trimmed, "all") {
		w.selected = append([]*SenderProfile(nil), w.candidates...)
		w.state = StateSelectionMade
		return w.selected, nil
	}

	if trimmed == "" {
		return nil, &InvalidSelectionError{Input: input, Index: ""}
	}

	seen := make(map[int]bool)
	selected := make([]*SenderProfile, 0)
	for _, tok := range strings.Split(trimmed, ",") {
		tok = strings.TrimSpace(tok)
		n, err := strconv.Atoi(tok)
		if err != nil || n < 1 || n > len(w.candidates) {
			return nil, &InvalidSelectionError{Input: input, Index: tok}
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		selected = append(selected, w.candidates[n-1])
	}

	w.selected = selected
	w.state = StateSelectionMade
	return w.selected, nil
}

// RequestConfirmation moves the workflow to the confirmation gate.
func (w *CleanupWorkflow) RequestConfirmation() error {
	if w.state != StateSelectionMade {
		return fmt.Errorf("cannot request confirmation in state %s", w.state)
	}
	if len(w.selected) == 0 {
		return fmt.Errorf("nothing selected")
	}
	w.state = StateConfirmationPending
	return nil
}

// Confirm checks the typed token against the required one. A mismatch
// cancels the workflow; by then nothing has been mutated, so cancellation
// has zero side effects.
func (w *CleanupWorkflow) Confirm(token string) error {
	if w.state != StateConfirmationPending {
		return fmt.Errorf("cannot confirm in state %s", w.state)
	}
	if strings.TrimSpace(token) != w.opts.ConfirmToken {
		w.state = StateCancelled
		w.logger.Info("Cleanup cancelled at confirmation",
			zap.Int("senders", len(w.selected)))
		return ErrConfirmationMismatch
	}
	w.state = StateExecuting
	return nil
}

// Cancel abandons the workflow before execution.
func (w *CleanupWorkflow) Cancel() {
	if w.state != StateCompleted && w.state != StateExecuting {
		w.state = StateCancelled
	}
}

// Execute performs the selected trash actions. In dry-run mode it runs from
// the selection state, touches nothing and only reports what would happen.
// In execute mode one sender's failure never aborts the remaining senders;
// every sender with at least one trashed message gets an audit entry.
func (w *CleanupWorkflow) Execute(ctx context.Context, progress ProgressFunc) (*CleanupReport, error) {
	if w.opts.DryRun {
		if w.state != StateSelectionMade {
			return nil, fmt.Errorf("cannot execute in state %s", w.state)
		}
		rep := &CleanupReport{DryRun: true}
		for _, p := range w.selected {
			rep.Senders = append(rep.Senders, SenderOutcome{
				Email:     p.Email,
				Name:      p.Name,
				Requested: len(p.MessageIDs),
			})
			rep.TotalRequested += len(p.MessageIDs)
		}
		w.state = StateCompleted
		return rep, nil
	}

	if w.state != StateExecuting {
		return nil, fmt.Errorf("cannot execute in state %s", w.state)
	}
	if w.mailbox == nil {
		return nil, fmt.Errorf("no mailbox client")
	}

	rep := &CleanupReport{}
	for i, p := range w.selected {
		report(progress, "trash", i, len(w.selected))

		trashed, failed, err := w.mailbox.TrashMessages(ctx, p.MessageIDs, nil)
		outcome := SenderOutcome{
			Email:     p.Email,
			Name:      p.Name,
			Requested: len(p.MessageIDs),
			Trashed:   trashed,
			Failed:    len(failed),
		}
		rep.Senders = append(rep.Senders, outcome)
		rep.TotalRequested += outcome.Requested
		rep.TotalTrashed += outcome.Trashed
		rep.TotalFailed += outcome.Failed

		if trashed > 0 {
			entry := &TrashLogEntry{
				Timestamp:    time.Now().UTC(),
				SenderEmail:  p.Email,
				SenderName:   p.Name,
				MessageCount: trashed,
				MessageIDs:   trashedIDs(p.MessageIDs, failed),
				QueryContext: w.queryContext,
			}
			if aerr := w.audit.Append(ctx, entry); aerr != nil {
				return rep, fmt.Errorf("failed to append trash log: %w", aerr)
			}
		}

		if err != nil {
			if IsAuthError(err) {
				w.state = StateCancelled
				return rep, err
			}
			w.logger.Warn("Trash partially failed for sender",
				zap.String("sender", p.Email),
				zap.Int("trashed", trashed),
				zap.Int("failed", len(failed)),
				zap.Error(err))
		}
	}
	report(progress, "trash", len(w.selected), len(w.selected))

	w.state = StateCompleted
	return rep, nil
}

// trashedIDs returns the ids that were actually trashed, preserving order.
func trashedIDs(ids []string, failed map[string]error) []string {
	if len(failed) == 0 {
		return append([]string(nil), ids...)
	}
	out := make([]string, 0, len(ids)-len(failed))
	for _, id := range ids {
		if _, bad := failed[id]; !bad {
			out = append(out, id)
		}
	}
	return out
}
