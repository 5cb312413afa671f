/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Windows:      WindowDTO
  Billing:      GenerateRequest, DeletePeriodRequest, ReportDTO, RecordDTO
  Assignments:  AssignmentDTO
  Deposits:     CreateDepositRequest, ReviseDepositRequest, DepositDTO
  Eligibility:  AssessmentDTO, ResultDTO, AssessRequest, DecisionDTO

VALIDATION:
  Struct tags are checked with go-playground/validator before a request
  reaches the domain. Tags cover shape only (required fields, date and
  number formats); business rules stay in the domain packages so every
  caller gets the same errors.

MONEY:
  Amounts travel as decimal strings ("500.00"), never JSON numbers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"

	"github.com/warp/housing-benefits/billing"
	"github.com/warp/housing-benefits/eligibility"
	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// WINDOWS
// =============================================================================

type WindowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Half  string `json:"half"`
	Label string `json:"label"`
}

func toWindowDTO(w generic.BillingWindow) WindowDTO {
	return WindowDTO{Start: w.Start.String(), End: w.End.String(), Half: string(w.Half), Label: w.Label}
}

// =============================================================================
// BILLING
// =============================================================================

// GenerateRequest triggers billing generation for a month.
type GenerateRequest struct {
	Year     int      `json:"year" validate:"required"`
	Month    int      `json:"month" validate:"required"`
	Period   string   `json:"period" validate:"omitempty,oneof=first second both"`
	Benefits []string `json:"benefits"`
	Actor    string   `json:"actor"`
}

// DeletePeriodRequest removes billing records inside a date range.
type DeletePeriodRequest struct {
	From     string   `json:"from" validate:"required,datetime=2006-01-02"`
	To       string   `json:"to" validate:"required,datetime=2006-01-02"`
	Benefits []string `json:"benefits"`
	Actor    string   `json:"actor"`
}

type RecordDTO struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	StaffID      string    `json:"staff_id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	PropertyID   string    `json:"property_id,omitempty"`
	Benefit      string    `json:"benefit_type"`
	Window       WindowDTO `json:"window"`
	Amount       string    `json:"amount"`
	Claimed      []string  `json:"claimed_deduction_ids,omitempty"`
	GeneratedAt  string    `json:"generated_at"`
	GeneratedBy  string    `json:"generated_by,omitempty"`
}

func toRecordDTO(r generic.BillingRecord) RecordDTO {
	return RecordDTO{
		ID:           string(r.ID),
		AssignmentID: string(r.AssignmentID),
		StaffID:      string(r.StaffID),
		TenantID:     string(r.TenantID),
		PropertyID:   string(r.PropertyID),
		Benefit:      string(r.Benefit),
		Window:       toWindowDTO(r.Window),
		Amount:       r.Amount.String(),
		Claimed:      r.ClaimedDeductionIDs,
		GeneratedAt:  r.GeneratedAt.Format(timeLayout),
		GeneratedBy:  r.GeneratedBy,
	}
}

func toRecordDTOs(recs []generic.BillingRecord) []RecordDTO {
	out := make([]RecordDTO, len(recs))
	for i, r := range recs {
		out[i] = toRecordDTO(r)
	}
	return out
}

type SubtotalDTO struct {
	Created            int    `json:"created"`
	SkippedDuplicate   int    `json:"skipped_duplicate"`
	SkippedNoAmount    int    `json:"skipped_no_amount"`
	SkippedNotBillable int    `json:"skipped_not_billable"`
	Failed             int    `json:"failed"`
	Amount             string `json:"amount"`
}

type FailureDTO struct {
	AssignmentID string `json:"assignment_id,omitempty"`
	Benefit      string `json:"benefit_type"`
	Window       string `json:"window"`
	Error        string `json:"error"`
}

// ReportDTO is the generation summary.
type ReportDTO struct {
	Year               int                    `json:"year"`
	Month              int                    `json:"month"`
	Windows            []WindowDTO            `json:"windows"`
	Created            int                    `json:"created"`
	SkippedDuplicate   int                    `json:"skipped_duplicate"`
	SkippedNoAmount    int                    `json:"skipped_no_amount"`
	SkippedNotBillable int                    `json:"skipped_not_billable"`
	Failed             int                    `json:"failed"`
	Total              string                 `json:"total"`
	Subtotals          map[string]SubtotalDTO `json:"subtotals"`
	Records            []RecordDTO            `json:"records"`
	Failures           []FailureDTO           `json:"failures"`
}

func toReportDTO(r *billing.Report) ReportDTO {
	dto := ReportDTO{
		Year:               r.Year,
		Month:              r.Month,
		Created:            r.Created,
		SkippedDuplicate:   r.SkippedDuplicate,
		SkippedNoAmount:    r.SkippedNoAmount,
		SkippedNotBillable: r.SkippedNotBillable,
		Failed:             r.Failed,
		Total:              r.Total().String(),
		Subtotals:          make(map[string]SubtotalDTO, len(r.Subtotals)),
		Records:            toRecordDTOs(r.Records),
		Failures:           make([]FailureDTO, len(r.Failures)),
	}
	for _, w := range r.Windows {
		dto.Windows = append(dto.Windows, toWindowDTO(w))
	}
	for b, st := range r.Subtotals {
		dto.Subtotals[string(b)] = SubtotalDTO{
			Created:            st.Created,
			SkippedDuplicate:   st.SkippedDuplicate,
			SkippedNoAmount:    st.SkippedNoAmount,
			SkippedNotBillable: st.SkippedNotBillable,
			Failed:             st.Failed,
			Amount:             st.Amount.String(),
		}
	}
	for i, f := range r.Failures {
		dto.Failures[i] = FailureDTO{
			AssignmentID: string(f.AssignmentID),
			Benefit:      string(f.Benefit),
			Window:       f.Window.Label,
			Error:        f.Err.Error(),
		}
	}
	return dto
}

type DeleteReportDTO struct {
	Deleted   int            `json:"deleted"`
	Released  int            `json:"released"`
	ByBenefit map[string]int `json:"by_benefit"`
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

type AgreementsDTO struct {
	Housing         bool `json:"housing"`
	Transportation  bool `json:"transportation"`
	FlightAgreement bool `json:"flight_agreement"`
	BusCard         bool `json:"bus_card"`
}

// AssignmentDTO is used for both requests and responses.
type AssignmentDTO struct {
	ID              string        `json:"id" validate:"required"`
	TenantID        string        `json:"tenant_id"`
	StaffID         string        `json:"staff_id"`
	PropertyID      string        `json:"property_id"`
	RoomID          string        `json:"room_id"`
	StartDate       string        `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate         string        `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	RentAmount      string        `json:"rent_amount,omitempty" validate:"omitempty,numeric"`
	TransportAmount string        `json:"transport_amount,omitempty" validate:"omitempty,numeric"`
	BusCardAmount   string        `json:"bus_card_amount,omitempty" validate:"omitempty,numeric"`
	Agreements      AgreementsDTO `json:"agreements"`
	Status          string        `json:"status" validate:"required,oneof=Active Pending Expired Terminated"`
}

func (d AssignmentDTO) toDomain() (generic.Assignment, error) {
	start, err := generic.ParseDate(d.StartDate)
	if err != nil {
		return generic.Assignment{}, err
	}
	a := generic.Assignment{
		ID:         generic.AssignmentID(d.ID),
		TenantID:   generic.TenantID(d.TenantID),
		StaffID:    generic.StaffID(d.StaffID),
		PropertyID: generic.PropertyID(d.PropertyID),
		RoomID:     generic.RoomID(d.RoomID),
		StartDate:  start,
		Agreements: generic.Agreements(d.Agreements),
		Status:     generic.AssignmentStatus(d.Status),
	}
	if d.EndDate != "" {
		end, err := generic.ParseDate(d.EndDate)
		if err != nil {
			return generic.Assignment{}, err
		}
		a.EndDate = &end
	}
	if a.RentAmount, err = optionalAmount(d.RentAmount); err != nil {
		return generic.Assignment{}, err
	}
	if a.TransportAmount, err = optionalAmount(d.TransportAmount); err != nil {
		return generic.Assignment{}, err
	}
	if a.BusCardAmount, err = optionalAmount(d.BusCardAmount); err != nil {
		return generic.Assignment{}, err
	}
	return a, a.Validate()
}

func toAssignmentDTO(a generic.Assignment) AssignmentDTO {
	dto := AssignmentDTO{
		ID:              string(a.ID),
		TenantID:        string(a.TenantID),
		StaffID:         string(a.StaffID),
		PropertyID:      string(a.PropertyID),
		RoomID:          string(a.RoomID),
		StartDate:       a.StartDate.String(),
		RentAmount:      a.RentAmount.String(),
		TransportAmount: a.TransportAmount.String(),
		BusCardAmount:   a.BusCardAmount.String(),
		Agreements:      AgreementsDTO(a.Agreements),
		Status:          string(a.Status),
	}
	if a.EndDate != nil {
		dto.EndDate = a.EndDate.String()
	}
	return dto
}

// =============================================================================
// DEPOSITS
// =============================================================================

// CreateDepositRequest initializes a deposit or prepaid benefit.
// An empty total uses the program's default amount for the benefit.
type CreateDepositRequest struct {
	AssignmentID  string `json:"assignment_id" validate:"required"`
	Benefit       string `json:"benefit_type" validate:"required"`
	TotalAmount   string `json:"total_amount" validate:"omitempty,numeric"`
	StartDate     string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=payroll_deduction cash check"`
	Notes         string `json:"notes"`
}

// ReviseDepositRequest changes a deposit. Omitted fields stay as they are.
type ReviseDepositRequest struct {
	TotalAmount *string `json:"total_amount" validate:"omitempty,numeric"`
	StartDate   *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	Notes       *string `json:"notes"`
}

// DateRequest carries the date for confirm/paid transitions. Empty means today.
type DateRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type InstallmentDTO struct {
	Sequence      int    `json:"sequence"`
	ScheduledDate string `json:"scheduled_date"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	DeductedAt    string `json:"deducted_at,omitempty"`
}

type DepositDTO struct {
	ID            string           `json:"id"`
	AssignmentID  string           `json:"assignment_id"`
	StaffID       string           `json:"staff_id"`
	Benefit       string           `json:"benefit_type"`
	TotalAmount   string           `json:"total_amount"`
	Deducted      string           `json:"deducted"`
	Remaining     string           `json:"remaining"`
	PaymentMethod string           `json:"payment_method"`
	PaymentStatus string           `json:"payment_status"`
	PaidDate      string           `json:"paid_date,omitempty"`
	StartDate     string           `json:"start_date"`
	Notes         string           `json:"notes,omitempty"`
	Installments  []InstallmentDTO `json:"installments"`
}

func toDepositDTO(d generic.SecurityDeposit) DepositDTO {
	dto := DepositDTO{
		ID:            string(d.ID),
		AssignmentID:  string(d.AssignmentID),
		StaffID:       string(d.StaffID),
		Benefit:       string(d.Benefit),
		TotalAmount:   d.TotalAmount.String(),
		Deducted:      d.Deducted().String(),
		Remaining:     d.Remaining().String(),
		PaymentMethod: string(d.PaymentMethod),
		PaymentStatus: string(d.PaymentStatus),
		StartDate:     d.StartDate.String(),
		Notes:         d.Notes,
		Installments:  make([]InstallmentDTO, len(d.Deductions)),
	}
	if d.PaidDate != nil {
		dto.PaidDate = d.PaidDate.String()
	}
	for i, ded := range d.Deductions {
		dto.Installments[i] = InstallmentDTO{
			Sequence:      ded.Sequence,
			ScheduledDate: ded.ScheduledDate.String(),
			Amount:        ded.Amount.String(),
			Status:        string(ded.Status),
		}
		if ded.DeductedAt != nil {
			dto.Installments[i].DeductedAt = ded.DeductedAt.String()
		}
	}
	return dto
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

type DamageDTO struct {
	HasDamage     bool   `json:"has_damage"`
	Description   string `json:"description"`
	EstimatedCost string `json:"estimated_cost" validate:"omitempty,numeric"`
}

type CleaningDTO struct {
	CleanedProperly              bool     `json:"cleaned_properly"`
	Issues                       []string `json:"issues"`
	RequiresProfessionalCleaning bool     `json:"requires_professional_cleaning"`
}

type ItemsDTO struct {
	AllItemsRemoved  bool     `json:"all_items_removed"`
	ItemsLeft        []string `json:"items_left"`
	DisposalRequired bool     `json:"disposal_required"`
}

type RulesDTO struct {
	RulesFollowed bool     `json:"rules_followed"`
	Violations    []string `json:"violations"`
}

type ResidencyDTO struct {
	StayedUntilEndDate   bool   `json:"stayed_until_end_date"`
	ActualDepartureDate  string `json:"actual_departure_date" validate:"omitempty,datetime=2006-01-02"`
	EarlyDepartureReason string `json:"early_departure_reason"`
	CompanyRelocation    bool   `json:"company_relocation"`
	HRReviewRequested    bool   `json:"hr_review_requested"`
}

type ProgramDTO struct {
	InProgram      bool   `json:"in_program"`
	ProgramEndDate string `json:"program_end_date" validate:"omitempty,datetime=2006-01-02"`
}

// AssessmentDTO is the move-out inspection checklist.
type AssessmentDTO struct {
	ID             string       `json:"id"`
	PropertyDamage DamageDTO    `json:"property_damage"`
	Cleaning       CleaningDTO  `json:"cleaning"`
	PersonalItems  ItemsDTO     `json:"personal_items"`
	HouseRules     RulesDTO     `json:"house_rules"`
	Residency      ResidencyDTO `json:"residency"`
	Program        ProgramDTO   `json:"program"`
	InspectorID    string       `json:"inspector_id" validate:"required"`
	InspectionDate string       `json:"inspection_date" validate:"omitempty,datetime=2006-01-02"`
	Notes          string       `json:"notes"`
}

func (d AssessmentDTO) toDomain(deposit generic.DepositID) (eligibility.Assessment, error) {
	a := eligibility.Assessment{
		ID:        generic.AssessmentID(d.ID),
		DepositID: deposit,
		PropertyDamage: eligibility.DamageCheck{
			HasDamage:   d.PropertyDamage.HasDamage,
			Description: d.PropertyDamage.Description,
		},
		Cleaning:      eligibility.CleaningCheck(d.Cleaning),
		PersonalItems: eligibility.ItemsCheck(d.PersonalItems),
		HouseRules:    eligibility.RulesCheck(d.HouseRules),
		Residency: eligibility.ResidencyCheck{
			StayedUntilEndDate:   d.Residency.StayedUntilEndDate,
			EarlyDepartureReason: d.Residency.EarlyDepartureReason,
			CompanyRelocation:    d.Residency.CompanyRelocation,
			HRReviewRequested:    d.Residency.HRReviewRequested,
		},
		Program:     eligibility.ProgramCheck{InProgram: d.Program.InProgram},
		InspectorID: d.InspectorID,
		Notes:       d.Notes,
	}

	var err error
	if a.PropertyDamage.EstimatedCost, err = optionalAmount(d.PropertyDamage.EstimatedCost); err != nil {
		return a, err
	}
	if a.InspectionDate, err = generic.ParseDate(d.InspectionDate); err != nil {
		return a, err
	}
	if a.Residency.ActualDepartureDate, err = optionalDate(d.Residency.ActualDepartureDate); err != nil {
		return a, err
	}
	if a.Program.ProgramEndDate, err = optionalDate(d.Program.ProgramEndDate); err != nil {
		return a, err
	}
	return a, nil
}

// AssessRequest records a refund decision.
type AssessRequest struct {
	Assessment AssessmentDTO `json:"assessment"`
	Actor      string        `json:"actor"`
}

type DeductionDTO struct {
	Reason string `json:"reason"`
	Amount string `json:"amount"`
}

type CheckDTO struct {
	Rule     string `json:"rule"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"`
	HRReview bool   `json:"hr_review,omitempty"`
}

type ResultDTO struct {
	IsEligible       bool           `json:"is_eligible"`
	Recommendation   string         `json:"recommendation"`
	DepositTotal     string         `json:"deposit_total"`
	RefundAmount     string         `json:"refund_amount"`
	TotalDeductions  string         `json:"total_deductions"`
	Deductions       []DeductionDTO `json:"deductions"`
	Reasons          []string       `json:"reasons"`
	RequiresHRReview bool           `json:"requires_hr_review"`
	Checks           []CheckDTO     `json:"checks"`
	EvaluatedAt      string         `json:"evaluated_at"`
}

func toResultDTO(r eligibility.Result) ResultDTO {
	dto := ResultDTO{
		IsEligible:       r.IsEligible,
		Recommendation:   string(r.Recommendation),
		DepositTotal:     r.DepositTotal.String(),
		RefundAmount:     r.RefundAmount.String(),
		TotalDeductions:  r.TotalDeductions.String(),
		Deductions:       make([]DeductionDTO, len(r.Deductions)),
		Reasons:          r.Reasons,
		RequiresHRReview: r.RequiresHRReview,
		Checks:           make([]CheckDTO, len(r.Checks)),
		EvaluatedAt:      r.EvaluatedAt.String(),
	}
	if dto.Reasons == nil {
		dto.Reasons = []string{}
	}
	for i, d := range r.Deductions {
		dto.Deductions[i] = DeductionDTO{Reason: d.Reason, Amount: d.Amount.String()}
	}
	for i, c := range r.Checks {
		dto.Checks[i] = CheckDTO{Rule: c.Rule, Passed: c.Passed, Reason: c.Reason, HRReview: c.HRReview}
	}
	return dto
}

// AuditRequest appends an event to a decision's audit trail.
type AuditRequest struct {
	Action  string `json:"action" validate:"required"`
	Actor   string `json:"actor" validate:"required"`
	Details string `json:"details"`
}

type AuditEntryDTO struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Timestamp string `json:"timestamp"`
	Details   string `json:"details,omitempty"`
}

type DecisionDTO struct {
	ID               string          `json:"id"`
	DepositID        string          `json:"deposit_id"`
	AssessmentID     string          `json:"assessment_id"`
	Decision         string          `json:"decision"`
	Amount           string          `json:"amount"`
	Reasons          []string        `json:"reasons"`
	RequiresHRReview bool            `json:"requires_hr_review"`
	ApprovedBy       string          `json:"approved_by"`
	ApprovedAt       string          `json:"approved_at"`
	Audit            []AuditEntryDTO `json:"audit"`
}

func toAuditEntryDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Action:    string(e.Action),
		Actor:     e.Actor,
		Timestamp: e.Timestamp.Format(timeLayout),
		Details:   e.Details,
	}
}

func toDecisionDTO(d generic.RefundDecision) DecisionDTO {
	dto := DecisionDTO{
		ID:               string(d.ID),
		DepositID:        string(d.DepositID),
		AssessmentID:     string(d.AssessmentID),
		Decision:         string(d.Decision),
		Amount:           d.Amount.String(),
		Reasons:          d.Reasons,
		RequiresHRReview: d.RequiresHRReview,
		ApprovedBy:       d.ApprovedBy,
		ApprovedAt:       d.ApprovedAt.Format(timeLayout),
		Audit:            make([]AuditEntryDTO, len(d.Audit)),
	}
	for i, e := range d.Audit {
		dto.Audit[i] = toAuditEntryDTO(e)
	}
	return dto
}

// AssessResponse pairs the evaluation with the stored decision.
type AssessResponse struct {
	Result   ResultDTO   `json:"result"`
	Decision DecisionDTO `json:"decision"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func optionalAmount(s string) (generic.Amount, error) {
	if s == "" {
		return generic.Sum(), nil
	}
	return generic.ParseAmount(s)
}

func optionalDate(s string) (*generic.TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func parseBenefits(names []string) ([]generic.BenefitType, error) {
	out := make([]generic.BenefitType, 0, len(names))
	for _, n := range names {
		b, err := generic.ParseBenefitType(n)
		if err != nil {
			return nil, fmt.Errorf("benefit %q: %w", n, err)
		}
		out = append(out, b)
	}
	return out, nil
}
