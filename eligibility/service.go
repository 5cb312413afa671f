package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// SERVICE - Evaluation + durable decision + audit trail
// =============================================================================

// Service records one refund decision per completed assessment. Later
// events (report generated, notification sent, HR review) are appended to
// the decision's audit trail; nothing is edited.
type Service struct {
	Engine    *Engine
	Deposits  generic.DepositStore
	Decisions generic.DecisionStore

	Logger *zap.Logger
	Now    func() time.Time
}

func NewService(engine *Engine, deposits generic.DepositStore, decisions generic.DecisionStore) *Service {
	return &Service{
		Engine:    engine,
		Deposits:  deposits,
		Decisions: decisions,
		Logger:    zap.NewNop(),
		Now:       time.Now,
	}
}

// Preview evaluates an assessment against a deposit without recording anything.
func (s *Service) Preview(ctx context.Context, depositID generic.DepositID, a Assessment) (Result, error) {
	d, err := s.Deposits.GetDeposit(ctx, depositID)
	if err != nil {
		return Result{}, err
	}
	return s.Engine.Evaluate(d.TotalAmount, a, generic.TimePoint{})
}

type AssessRequest struct {
	DepositID  generic.DepositID
	Assessment Assessment
	Actor      string
}

type Outcome struct {
	Result   Result
	Decision generic.RefundDecision
}

// Assess evaluates and persists the decision with its first two audit
// entries. A second assessment with the same ID fails with
// ErrDuplicateDecision.
func (s *Service) Assess(ctx context.Context, req AssessRequest) (*Outcome, error) {
	if req.Actor == "" {
		req.Actor = req.Assessment.InspectorID
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", generic.ErrInvalidInput)
	}
	if req.Assessment.ID == "" {
		req.Assessment.ID = generic.AssessmentID(uuid.NewString())
	}
	req.Assessment.DepositID = req.DepositID

	res, err := s.Preview(ctx, req.DepositID, req.Assessment)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := generic.DecisionID(uuid.NewString())
	failed := 0
	for _, c := range res.Checks {
		if !c.Passed {
			failed++
		}
	}

	decision := generic.RefundDecision{
		ID:               id,
		DepositID:        req.DepositID,
		AssessmentID:     req.Assessment.ID,
		Decision:         res.Decision(),
		Amount:           res.RefundAmount,
		Reasons:          res.Reasons,
		RequiresHRReview: res.RequiresHRReview,
		ApprovedBy:       req.Actor,
		ApprovedAt:       now,
		Audit: []generic.AuditEntry{
			{
				ID:         uuid.NewString(),
				DecisionID: id,
				Action:     generic.AuditEligibilityChecked,
				Actor:      req.Actor,
				Timestamp:  now,
				Details: fmt.Sprintf("%d of %d checks failed; deductions $%s",
					failed, len(res.Checks), res.TotalDeductions),
			},
			{
				ID:         uuid.NewString(),
				DecisionID: id,
				Action:     generic.AuditDecisionCreated,
				Actor:      req.Actor,
				Timestamp:  now,
				Details: fmt.Sprintf("%s: refund $%s of $%s (HR review: %t)",
					res.Recommendation, res.RefundAmount, res.DepositTotal, res.RequiresHRReview),
			},
		},
	}

	if err := s.Decisions.SaveDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("assessment %s: %w", req.Assessment.ID, err)
	}

	s.logger().Info("refund decision recorded",
		zap.String("decision_id", string(id)),
		zap.String("deposit_id", string(req.DepositID)),
		zap.String("assessment_id", string(req.Assessment.ID)),
		zap.String("decision", string(decision.Decision)),
		zap.String("refund", res.RefundAmount.String()),
		zap.Bool("hr_review", res.RequiresHRReview))
	return &Outcome{Result: res, Decision: decision}, nil
}

// AppendAudit adds an entry to a decision's trail.
func (s *Service) AppendAudit(ctx context.Context, id generic.DecisionID, action generic.AuditAction, actor, details string) (generic.AuditEntry, error) {
	if action == "" || actor == "" {
		return generic.AuditEntry{}, fmt.Errorf("%w: audit action and actor are required", generic.ErrInvalidInput)
	}
	entry := generic.AuditEntry{
		ID:         uuid.NewString(),
		DecisionID: id,
		Action:     action,
		Actor:      actor,
		Timestamp:  s.now().UTC(),
		Details:    details,
	}
	if err := s.Decisions.AppendAudit(ctx, entry); err != nil {
		return generic.AuditEntry{}, err
	}
	return entry, nil
}

func (s *Service) Decision(ctx context.Context, id generic.DecisionID) (*generic.RefundDecision, error) {
	return s.Decisions.GetDecision(ctx, id)
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
