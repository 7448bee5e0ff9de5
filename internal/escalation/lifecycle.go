package escalation

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

func illegal(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrIllegalTransition, fmt.Sprintf(format, args...))
}

// AlertAction checks an analyst decision on an alert. Only Pending alerts
// can be reviewed or dismissed, and both outcomes are final.
func AlertAction(current, next domain.AlertStatus) error {
	switch next {
	case domain.AlertReviewed, domain.AlertDismissed:
	default:
		return fmt.Errorf("%w: unknown alert action %q", domain.ErrInvalidInput, next)
	}
	if current != domain.AlertPending {
		return illegal("alert is already %s", current)
	}
	return nil
}

// CaseTransition checks an analyst status change on a case:
// Open -> In Progress -> Closed. "SAR Filed" is reached only by filing a SAR.
func CaseTransition(current, next domain.CaseStatus) error {
	switch next {
	case domain.CaseOpen, domain.CaseInProgress, domain.CaseClosed:
	case domain.CaseSARFiled:
		return illegal("case status %q is set by filing a SAR", next)
	default:
		return fmt.Errorf("%w: unknown case status %q", domain.ErrInvalidInput, next)
	}

	switch {
	case current == domain.CaseOpen && next == domain.CaseInProgress:
		return nil
	case current == domain.CaseInProgress && next == domain.CaseClosed:
		return nil
	}
	return illegal("case cannot move from %s to %s", current, next)
}

// CanOpenCase checks that an analyst may open a case for alert.
// existing is the case already linked to the alert, if any.
func CanOpenCase(alert *domain.Alert, existing *domain.Case) error {
	if alert == nil {
		return fmt.Errorf("%w: alert is required", domain.ErrInvalidInput)
	}
	if existing != nil {
		return fmt.Errorf("%w: alert %s already has case %s", domain.ErrConflict, alert.ID, existing.ID)
	}
	if alert.Status == domain.AlertDismissed {
		return illegal("alert %s was dismissed", alert.ID)
	}
	return nil
}

// caseAcceptsSAR reports whether the case is still under investigation.
func caseAcceptsSAR(c *domain.Case) error {
	switch c.Status {
	case domain.CaseOpen, domain.CaseInProgress:
		return nil
	}
	return illegal("case %s is %s", c.ID, c.Status)
}

// verifyChain checks the case -> alert -> transaction links.
func verifyChain(c *domain.Case, alert *domain.Alert, tx *domain.Transaction) error {
	if c == nil {
		return fmt.Errorf("%w: case is required", domain.ErrInvalidInput)
	}
	if c.AlertID == "" || alert == nil || alert.ID != c.AlertID {
		return illegal("case %s is not linked to an alert", c.ID)
	}
	if alert.TransactionID == "" || tx == nil || tx.ID != alert.TransactionID {
		return illegal("alert %s is not linked to a transaction", alert.ID)
	}
	return nil
}

// CanCreateSAR checks that a SAR may be drafted for the case. existing is
// the SAR already derived from the case, if any.
func CanCreateSAR(c *domain.Case, alert *domain.Alert, tx *domain.Transaction, existing *domain.SAR) error {
	if err := verifyChain(c, alert, tx); err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: case %s already has SAR %s", domain.ErrConflict, c.ID, existing.Number)
	}
	return caseAcceptsSAR(c)
}

// SARTransition checks a status edit on a SAR. Draft may move to Pending;
// Filed is reached only through filing.
func SARTransition(current, next domain.SARStatus) error {
	switch next {
	case domain.SARDraft, domain.SARPending:
	case domain.SARFiled:
		return illegal("SAR status %q is set by filing", next)
	default:
		return fmt.Errorf("%w: unknown SAR status %q", domain.ErrInvalidInput, next)
	}
	if current == domain.SARDraft && next == domain.SARPending {
		return nil
	}
	return illegal("SAR cannot move from %s to %s", current, next)
}

// CanFileSAR checks that sar may be filed: it must not be filed yet and its
// case must be linked to an alert and a transaction and still be open.
func CanFileSAR(sar *domain.SAR, c *domain.Case, alert *domain.Alert, tx *domain.Transaction) error {
	if sar == nil {
		return fmt.Errorf("%w: SAR is required", domain.ErrInvalidInput)
	}
	if sar.Status == domain.SARFiled {
		return illegal("SAR %s is already filed", sar.Number)
	}
	if c != nil && sar.CaseID != c.ID {
		return illegal("SAR %s does not belong to case %s", sar.Number, c.ID)
	}
	if err := verifyChain(c, alert, tx); err != nil {
		return err
	}
	return caseAcceptsSAR(c)
}

// FormatSARNumber renders the public SAR identifier, e.g. SAR-2026-007.
func FormatSARNumber(year, seq int) string {
	return fmt.Sprintf("SAR-%d-%03d", year, seq)
}
