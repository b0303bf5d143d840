// Package orchestrator drives a request through the full pipeline:
// validation, budget reservation, execution, persistence, budget commit.
//
// The request moves through a fixed sequence of states:
//
//	RECEIVED -> VALIDATED -> BUDGET_RESERVED -> EXECUTED -> PERSISTED -> DONE
//
// Any failure moves the request to the terminal ERROR state. The one
// invariant the orchestrator owns is reservation hygiene: a reservation
// made for a request that did not complete execution is always released
// before the error is reported, and a reservation for a request whose
// execution completed is always committed, even if persistence then
// fails. Epsilon is charged exactly when data was actually read.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tolliver/veil/internal/budget"
	"github.com/tolliver/veil/internal/engine"
	"github.com/tolliver/veil/internal/request"
	"github.com/tolliver/veil/internal/schema"
	"github.com/tolliver/veil/internal/store"
	"github.com/tolliver/veil/internal/validate"
)

// State is a request's position in the pipeline.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateValidated      State = "VALIDATED"
	StateBudgetReserved State = "BUDGET_RESERVED"
	StateExecuted       State = "EXECUTED"
	StatePersisted      State = "PERSISTED"
	StateDone           State = "DONE"
	StateError          State = "ERROR"
)

// Response is the invocation result returned to the trigger.
type Response struct {
	RunID     int64 `json:"run_id"`
	CommandID int64 `json:"command_id,omitempty"`

	// MechanismUsed and Result are set on success.
	MechanismUsed engine.Mechanism `json:"mechanism_used,omitempty"`
	Result        *engine.Result   `json:"result_payload,omitempty"`

	// ErrorReason and Message are set on failure.
	ErrorReason string `json:"error_reason,omitempty"`
	Message     string `json:"message,omitempty"`
}

// OK reports whether the response carries a result.
func (r *Response) OK() bool {
	return r.ErrorReason == ""
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	sch        *schema.Schema
	accountant *budget.Accountant
	eng        *engine.Engine
	st         *store.Store
	dataset    string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the timestamp source for persisted results.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. The dataset name scopes budget accounting.
func New(sch *schema.Schema, accountant *budget.Accountant, eng *engine.Engine,
	st *store.Store, datasetName string, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sch:        sch,
		accountant: accountant,
		eng:        eng,
		st:         st,
		dataset:    datasetName,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle processes one raw invocation payload end to end. It never
// returns an error: every failure is folded into the Response so the
// trigger always receives a structured outcome.
func (o *Orchestrator) Handle(ctx context.Context, payload []byte) *Response {
	req, err := request.Decode(payload)
	if err != nil {
		o.logger.Warn("request rejected", "state", StateReceived, "error", err)
		return errorResponse(0, err)
	}
	return o.Process(ctx, req)
}

// Process runs a decoded request through the pipeline. Field-level
// invariants are re-checked here so callers constructing requests
// directly get the same rejection a malformed payload would, before any
// budget mutation.
func (o *Orchestrator) Process(ctx context.Context, req *request.AnalysisRequest) *Response {
	if err := req.Validate(); err != nil {
		o.logger.Warn("request rejected", "state", StateReceived,
			"run_id", req.RunID, "error", err)
		return errorResponse(req.RunID, err)
	}

	log := o.logger.With("run_id", req.RunID, "command_id", req.CommandID)
	log.Info("request received", "state", StateReceived,
		"epsilon", req.Epsilon, "confidential", req.ConfidentialQuery, "debug", req.Debug)

	vq, err := validate.Validate(req.AnalysisQuery, req.TransformText(), o.sch)
	if err != nil {
		log.Warn("validation failed", "state", StateError, "error", err)
		return errorResponse(req.RunID, err)
	}
	log.Debug("query validated", "state", StateValidated,
		"table", vq.Table.Name, "cells", vq.NumCells())

	scope := req.ScopeKey(o.dataset)
	reservation, err := o.accountant.Reserve(ctx, scope, req.Epsilon)
	if err != nil {
		log.Warn("budget reservation failed", "state", StateError, "scope", scope, "error", err)
		return errorResponse(req.RunID, err)
	}
	log.Debug("budget reserved", "state", StateBudgetReserved,
		"scope", scope, "token", reservation.Token)

	result, err := o.eng.Execute(ctx, vq, req.ConfidentialQuery, req.Epsilon)
	if err != nil {
		// Execution did not complete, so the provisional charge must not
		// stand. A failed release leaves the scope overcharged and is
		// logged loudly for operator repair.
		if relErr := o.accountant.Release(ctx, reservation); relErr != nil {
			log.Error("reservation release failed after execution error",
				"token", reservation.Token, "error", relErr)
		}
		log.Warn("execution failed", "state", StateError, "error", err)
		return errorResponse(req.RunID, err)
	}
	log.Info("query executed", "state", StateExecuted,
		"mechanism", result.Mechanism, "rows", len(result.Rows))

	// Data has been read; the spend is final regardless of what happens
	// to persistence below.
	if err := o.accountant.Commit(ctx, reservation, req.RunID); err != nil {
		log.Error("budget commit failed", "state", StateError,
			"token", reservation.Token, "error", err)
		return errorResponse(req.RunID, fmt.Errorf("budget commit failed: %w", err))
	}

	if req.Debug {
		log.Info("debug request, skipping persistence", "state", StateDone)
		return &Response{
			RunID:         req.RunID,
			CommandID:     req.CommandID,
			MechanismUsed: result.Mechanism,
			Result:        result,
		}
	}

	if err := o.persist(ctx, req, result); err != nil {
		// The result exists and the budget is spent, but the run store
		// does not have it. Reported distinctly so the caller can retry
		// persistence without re-running the query.
		log.Error("persistence failed after execution", "state", StateError, "error", err)
		return &Response{
			RunID:       req.RunID,
			CommandID:   req.CommandID,
			ErrorReason: "result_unpersisted",
			Message:     fmt.Sprintf("query executed and budget committed, but result storage failed: %v", err),
		}
	}
	log.Debug("result persisted", "state", StatePersisted)

	log.Info("request complete", "state", StateDone)
	return &Response{
		RunID:         req.RunID,
		CommandID:     req.CommandID,
		MechanismUsed: result.Mechanism,
		Result:        result,
	}
}

// persist writes the result payload for the run, replacing any previous
// result for the same run identifier.
func (o *Orchestrator) persist(ctx context.Context, req *request.AnalysisRequest, result *engine.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result payload: %w", err)
	}
	return o.st.UpsertResult(ctx, store.RunResult{
		RunID:     req.RunID,
		CommandID: req.CommandID,
		Mechanism: string(result.Mechanism),
		Payload:   string(payload),
		CreatedAt: o.now().UTC(),
	})
}

// errorResponse folds an error into the response taxonomy.
func errorResponse(runID int64, err error) *Response {
	return &Response{
		RunID:       runID,
		ErrorReason: reasonOf(err),
		Message:     err.Error(),
	}
}

// reasonOf maps an error to its stable reason string.
func reasonOf(err error) string {
	var ve *validate.Error
	if errors.As(err, &ve) {
		return string(ve.Reason)
	}
	var be *budget.Error
	if errors.As(err, &be) {
		return "budget_exceeded"
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return string(ee.Reason)
	}
	var se *store.Error
	if errors.As(err, &se) {
		return string(se.Reason)
	}
	return "internal"
}
