/*
handlers.go - HTTP API handlers for the housing benefits engine

PURPOSE:
  Exposes billing generation, deposit schedules and refund eligibility via
  REST API. Handles HTTP request/response, JSON serialization, and
  delegates to domain logic.

ENDPOINTS:
  Windows:
    GET    /api/windows?year=&month=&period=     Billing windows for a month

  Billing:
    POST   /api/billing/generate                 Generate records for a month
    GET    /api/billing/records                  List records (from, to, benefit, assignment_id)
    POST   /api/billing/delete-period            Delete records in a date range

  Assignments:
    GET    /api/assignments                      List assignments
    POST   /api/assignments                      Create or replace an assignment
    GET    /api/assignments/{id}                 Get assignment

  Deposits:
    GET    /api/deposits?assignment_id=          List deposits
    POST   /api/deposits                         Initialize deposit + schedule
    GET    /api/deposits/{id}                    Get deposit with installments
    PUT    /api/deposits/{id}                    Revise (regenerates schedule)
    GET    /api/deposits/{id}/queue              Pending deductions
    POST   /api/deposits/{id}/installments/{seq}/confirm
    POST   /api/deposits/{id}/installments/{seq}/skip
    POST   /api/deposits/{id}/paid               Cash/check settlement

  Eligibility:
    POST   /api/deposits/{id}/eligibility        Preview (nothing recorded)
    POST   /api/deposits/{id}/assessments        Record refund decision
    GET    /api/decisions/{id}                   Decision with audit trail
    POST   /api/decisions/{id}/audit             Append audit entry

  Program:
    GET    /api/program                          Active program configuration

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate decision, locked schedule, generation in progress)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public; deploy
  behind the staff portal's gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/housing-benefits/billing"
	"github.com/warp/housing-benefits/deposit"
	"github.com/warp/housing-benefits/eligibility"
	"github.com/warp/housing-benefits/factory"
	"github.com/warp/housing-benefits/generic"
)

const timeLayout = time.RFC3339

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API persists through.
type Store interface {
	generic.AssignmentStore
	generic.GenerationStore
	generic.DepositStore
	generic.DecisionStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Program *factory.Program

	Orchestrator *billing.Orchestrator
	Deposits     *deposit.Service
	Eligibility  *eligibility.Service

	Logger *zap.Logger
	Now    func() time.Time

	validate *validator.Validate
}

// NewHandler wires the domain services over one store and program.
func NewHandler(store Store, program *factory.Program, logger *zap.Logger) *Handler {
	if program == nil {
		program = factory.DefaultProgram()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	orch := billing.NewOrchestrator(store, store)
	orch.WindowCapacity = program.WindowCapacity
	orch.Logger = logger.Named("billing")

	deposits := deposit.NewService(store, store)
	deposits.Plans = program.Plans
	deposits.Logger = logger.Named("deposit")

	elig := eligibility.NewService(program.Engine(), store, store)
	elig.Logger = logger.Named("eligibility")

	return &Handler{
		Store:        store,
		Program:      program,
		Orchestrator: orch,
		Deposits:     deposits,
		Eligibility:  elig,
		Logger:       logger,
		Now:          time.Now,
		validate:     newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// WINDOW HANDLERS
// =============================================================================

// GetWindows returns the billing windows for a month.
func (h *Handler) GetWindows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	sel, err := generic.ParseWindowSelector(q.Get("period"))
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}

	windows, err := generic.WindowsFor(year, month, sel)
	if err != nil {
		writeDomainError(w, "Invalid month", err)
		return
	}
	dtos := make([]WindowDTO, len(windows))
	for i, win := range windows {
		dtos[i] = toWindowDTO(win)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// GenerateBilling runs the orchestrator for one month.
func (h *Handler) GenerateBilling(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	sel, err := generic.ParseWindowSelector(req.Period)
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}
	benefits, err := parseBenefits(req.Benefits)
	if err != nil {
		writeDomainError(w, "Invalid benefit type", err)
		return
	}

	report, err := h.Orchestrator.Generate(r.Context(), billing.Request{
		Year:     req.Year,
		Month:    req.Month,
		Period:   sel,
		Benefits: benefits,
		Actor:    actorOr(req.Actor, "api"),
	})
	if err != nil {
		writeDomainError(w, "Failed to generate billing", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ListBilling returns records filtered by window range, benefit and assignment.
func (h *Handler) ListBilling(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := generic.ParseDate(q.Get("from"))
	if err != nil {
		writeDomainError(w, "Invalid from date", err)
		return
	}
	to, err := generic.ParseDate(q.Get("to"))
	if err != nil {
		writeDomainError(w, "Invalid to date", err)
		return
	}
	var names []string
	if b := q.Get("benefit"); b != "" {
		names = strings.Split(b, ",")
	}
	benefits, err := parseBenefits(names)
	if err != nil {
		writeDomainError(w, "Invalid benefit type", err)
		return
	}

	recs, err := h.Orchestrator.Records(r.Context(), generic.BillingFilter{
		From:         from,
		To:           to,
		Benefits:     benefits,
		AssignmentID: generic.AssignmentID(q.Get("assignment_id")),
	})
	if err != nil {
		writeDomainError(w, "Failed to list billing records", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(recs))
}

// DeletePeriod removes records whose window lies in [from, to].
func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	var req DeletePeriodRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	from, _ := generic.ParseDate(req.From)
	to, _ := generic.ParseDate(req.To)
	benefits, err := parseBenefits(req.Benefits)
	if err != nil {
		writeDomainError(w, "Invalid benefit type", err)
		return
	}

	report, err := h.Orchestrator.DeletePeriod(r.Context(), billing.DeleteRequest{
		From:     from,
		To:       to,
		Benefits: benefits,
		Actor:    actorOr(req.Actor, "api"),
	})
	if err != nil {
		writeDomainError(w, "Failed to delete billing period", err)
		return
	}

	by := make(map[string]int, len(report.ByBenefit))
	for b, n := range report.ByBenefit {
		by[string(b)] = n
	}
	writeJSON(w, http.StatusOK, DeleteReportDTO{Deleted: report.Deleted, Released: report.Released, ByBenefit: by})
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	filter := generic.AssignmentFilter{}
	if b := r.URL.Query().Get("benefit"); b != "" {
		bt, err := generic.ParseBenefitType(b)
		if err != nil {
			writeDomainError(w, "Invalid benefit type", err)
			return
		}
		filter.Benefit = bt
	}

	list, err := h.Store.ListAssignments(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list assignments", err)
		return
	}
	dtos := make([]AssignmentDTO, len(list))
	for i, a := range list {
		dtos[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAssignment(r.Context(), generic.AssignmentID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Assignment not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(*a))
}

// SaveAssignment creates or replaces an assignment read model.
func (h *Handler) SaveAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentDTO
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	a, err := req.toDomain()
	if err != nil {
		writeDomainError(w, "Invalid assignment", err)
		return
	}
	if err := h.Store.SaveAssignment(r.Context(), a); err != nil {
		writeDomainError(w, "Failed to save assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(a))
}

// =============================================================================
// DEPOSIT HANDLERS
// =============================================================================

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deps, err := h.Store.ListDeposits(r.Context(), generic.AssignmentID(r.URL.Query().Get("assignment_id")))
	if err != nil {
		writeDomainError(w, "Failed to list deposits", err)
		return
	}
	dtos := make([]DepositDTO, len(deps))
	for i, d := range deps {
		dtos[i] = toDepositDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDeposit initializes a deposit and its installment schedule.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	benefit, err := generic.ParseBenefitType(req.Benefit)
	if err != nil {
		writeDomainError(w, "Invalid benefit type", err)
		return
	}

	var total generic.Amount
	if req.TotalAmount != "" {
		total, _ = generic.ParseAmount(req.TotalAmount)
	} else if def, ok := h.Program.DefaultAmount(benefit); ok {
		total = def
	} else {
		writeError(w, http.StatusBadRequest, "total_amount is required for "+string(benefit), nil)
		return
	}
	start, _ := generic.ParseDate(req.StartDate)

	d, err := h.Deposits.Initialize(r.Context(), deposit.InitializeRequest{
		AssignmentID:  generic.AssignmentID(req.AssignmentID),
		Benefit:       benefit,
		TotalAmount:   total,
		StartDate:     start,
		PaymentMethod: generic.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
	})
	if err != nil {
		writeDomainError(w, "Failed to create deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDepositDTO(*d))
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := h.Store.GetDeposit(r.Context(), depositID(r))
	if err != nil {
		writeDomainError(w, "Deposit not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(*d))
}

// ReviseDeposit applies a change; a new total or start date regenerates the schedule.
func (h *Handler) ReviseDeposit(w http.ResponseWriter, r *http.Request) {
	var req ReviseDepositRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}

	rev := deposit.ReviseRequest{Notes: req.Notes}
	if req.TotalAmount != nil {
		total, err := generic.ParseAmount(*req.TotalAmount)
		if err != nil {
			writeDomainError(w, "Invalid total_amount", err)
			return
		}
		rev.TotalAmount = &total
	}
	if req.StartDate != nil {
		start, err := generic.ParseDate(*req.StartDate)
		if err != nil {
			writeDomainError(w, "Invalid start_date", err)
			return
		}
		rev.StartDate = &start
	}

	d, err := h.Deposits.Revise(r.Context(), depositID(r), rev)
	if err != nil {
		writeDomainError(w, "Failed to revise deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(*d))
}

// ListQueue returns the deposit's pending-deduction queue items.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	id := depositID(r)
	if _, err := h.Store.GetDeposit(r.Context(), id); err != nil {
		writeDomainError(w, "Deposit not found", err)
		return
	}
	items, err := h.Store.ListPending(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list queue", err)
		return
	}

	type itemDTO struct {
		ID            string `json:"id"`
		Sequence      int    `json:"sequence"`
		ScheduledDate string `json:"scheduled_date"`
		Amount        string `json:"amount"`
		Status        string `json:"status"`
		ClaimKey      string `json:"claim_key,omitempty"`
	}
	dtos := make([]itemDTO, len(items))
	for i, it := range items {
		dtos[i] = itemDTO{
			ID:            it.ID,
			Sequence:      it.Sequence,
			ScheduledDate: it.ScheduledDate.String(),
			Amount:        it.Amount.String(),
			Status:        string(it.Status),
			ClaimKey:      it.ClaimKey,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ConfirmInstallment records that payroll deducted an installment.
func (h *Handler) ConfirmInstallment(w http.ResponseWriter, r *http.Request) {
	seq, at, ok := h.installmentRequest(w, r)
	if !ok {
		return
	}
	d, err := h.Deposits.MarkDeducted(r.Context(), depositID(r), seq, at)
	if err != nil {
		writeDomainError(w, "Failed to confirm installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(*d))
}

func (h *Handler) SkipInstallment(w http.ResponseWriter, r *http.Request) {
	seq, _, ok := h.installmentRequest(w, r)
	if !ok {
		return
	}
	d, err := h.Deposits.Skip(r.Context(), depositID(r), seq)
	if err != nil {
		writeDomainError(w, "Failed to skip installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(*d))
}

// MarkDepositPaid settles a cash or check deposit.
func (h *Handler) MarkDepositPaid(w http.ResponseWriter, r *http.Request) {
	var req DateRequest
	if err := h.decodeOptional(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	d, err := h.Deposits.MarkPaid(r.Context(), depositID(r), h.dateOrToday(req.Date))
	if err != nil {
		writeDomainError(w, "Failed to mark deposit paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(*d))
}

func (h *Handler) installmentRequest(w http.ResponseWriter, r *http.Request) (int, generic.TimePoint, bool) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment sequence", err)
		return 0, generic.TimePoint{}, false
	}
	var req DateRequest
	if err := h.decodeOptional(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return 0, generic.TimePoint{}, false
	}
	return seq, h.dateOrToday(req.Date), true
}

// =============================================================================
// ELIGIBILITY HANDLERS
// =============================================================================

// PreviewEligibility evaluates an assessment without recording a decision.
func (h *Handler) PreviewEligibility(w http.ResponseWriter, r *http.Request) {
	var req AssessmentDTO
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	a, err := req.toDomain(depositID(r))
	if err != nil {
		writeDomainError(w, "Invalid assessment", err)
		return
	}

	result, err := h.Eligibility.Preview(r.Context(), depositID(r), a)
	if err != nil {
		writeDomainError(w, "Failed to evaluate eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

// AssessDeposit records the refund decision for a completed assessment.
func (h *Handler) AssessDeposit(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	a, err := req.Assessment.toDomain(depositID(r))
	if err != nil {
		writeDomainError(w, "Invalid assessment", err)
		return
	}

	out, err := h.Eligibility.Assess(r.Context(), eligibility.AssessRequest{
		DepositID:  depositID(r),
		Assessment: a,
		Actor:      req.Actor,
	})
	if err != nil {
		writeDomainError(w, "Failed to record refund decision", err)
		return
	}
	writeJSON(w, http.StatusCreated, AssessResponse{
		Result:   toResultDTO(out.Result),
		Decision: toDecisionDTO(out.Decision),
	})
}

func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.Eligibility.Decision(r.Context(), generic.DecisionID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Decision not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(*d))
}

// AppendAudit adds an event (report generated, notification sent, HR review)
// to a decision's trail.
func (h *Handler) AppendAudit(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if err := h.decode(r, &req); err != nil {
		writeDomainError(w, "Invalid request body", err)
		return
	}
	entry, err := h.Eligibility.AppendAudit(r.Context(),
		generic.DecisionID(chi.URLParam(r, "id")),
		generic.AuditAction(req.Action), req.Actor, req.Details)
	if err != nil {
		writeDomainError(w, "Failed to append audit entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuditEntryDTO(entry))
}

// GetProgram returns the active program configuration.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, factory.ToJSON(h.Program))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body and checks its struct tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
	}
	return h.check(dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
	}
	return h.check(dst)
}

func (h *Handler) check(dst any) error {
	err := h.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, len(ve))
		for i, fe := range ve {
			msgs[i] = fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %s", generic.ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", generic.ErrInvalidInput, err)
}

func (h *Handler) dateOrToday(s string) generic.TimePoint {
	if tp, err := generic.ParseDate(s); err == nil && !tp.IsZero() {
		return tp
	}
	return generic.DateOf(h.Now())
}

func depositID(r *http.Request) generic.DepositID {
	return generic.DepositID(chi.URLParam(r, "id"))
}

func actorOr(actor, fallback string) string {
	if actor == "" {
		return fallback
	}
	return actor
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error's class.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
