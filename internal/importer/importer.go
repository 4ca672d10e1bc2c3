// Package importer drives the spreadsheet-to-client pipeline: rows are
// normalized, validated, matched against existing clients, resolved to a
// plan, and applied. Rows advance sequentially in file order and every
// row's writes commit in their own transaction, so a stopped or aborted
// run keeps everything applied before the stop; nothing rolls back.
package importer

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/relaycrm/import-cli/internal/client"
	"github.com/relaycrm/import-cli/internal/model"
	"github.com/relaycrm/import-cli/internal/normalize"
	"github.com/relaycrm/import-cli/internal/rowsource"
	"github.com/relaycrm/import-cli/internal/store"
)

// Options binds a run to its owner, optional current group, and the
// source label recorded on the run. GroupID doubles as the target of
// group actions and the group newly created clients join.
type Options struct {
	OwnerID string
	GroupID string
	Source  string
}

// Importer executes import runs under one frozen policy snapshot.
// Edits made to the saved policy while a run is in flight never reach it.
type Importer struct {
	clients client.Store
	runs    store.Store
	locator *Locator
	cfg     model.ImportConfig
	opts    Options
}

// New validates the policy once and freezes a private copy. A policy
// that fails validation never starts a run, and policy settings that
// need a group context are rejected up front when opts carries none.
func New(clients client.Store, runs store.Store, cfg model.ImportConfig, opts Options) (*Importer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "importer: invalid policy")
	}
	if opts.OwnerID == "" {
		return nil, eris.New("importer: owner id is required")
	}
	if opts.GroupID == "" {
		if ga := cfg.DuplicateAction.GroupAction; ga != model.GroupActionNone {
			return nil, eris.Errorf("importer: group action %q requires a group", ga)
		}
		if cfg.SearchScope.Has(model.ScopeCurrentGroup) {
			return nil, eris.New("importer: current_group scope requires a group")
		}
	}
	return &Importer{
		clients: clients,
		runs:    runs,
		locator: NewLocator(clients),
		cfg:     cfg.Clone(),
		opts:    opts,
	}, nil
}

// Run records a run, pulls rows from the source, and processes them one
// by one. The returned run carries the final report; partial reports
// survive aborts and source failures. Cancelling ctx aborts the run.
func (imp *Importer) Run(ctx context.Context, src rowsource.Source) (*model.ImportRun, error) {
	log := zap.L().With(
		zap.String("owner", imp.opts.OwnerID),
		zap.String("source", imp.opts.Source),
	)
	log.Info("import: starting run")

	run := &model.ImportRun{
		OwnerID: imp.opts.OwnerID,
		GroupID: imp.opts.GroupID,
		Source:  imp.opts.Source,
		Policy:  imp.cfg,
	}
	if err := imp.runs.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "importer: create run")
	}
	log = log.With(zap.String("run_id", run.ID))

	if err := imp.runs.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		log.Warn("import: failed to update run status", zap.Error(err))
	}

	report := &model.ImportReport{}
	regions := newRegionCache(imp.clients, imp.opts.OwnerID)

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := src.Rows(srcCtx)

	for row := range rowCh {
		report.Total++
		imp.processRow(ctx, log, row, report, regions)
		if report.Aborted {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		report.Aborted = true
	}

	// Unblock the source before draining so an aborted run cannot
	// deadlock on a full row channel. The cancellation error that
	// produces is not a source failure.
	cancel()
	for range rowCh { //nolint:revive // drain
	}
	var srcErr error
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			srcErr = err
		}
	}

	report.RegionsCreated = regions.created

	status := model.RunStatusCompleted
	var runErrMsg string
	switch {
	case srcErr != nil:
		status = model.RunStatusFailed
		runErrMsg = srcErr.Error()
	case report.Aborted:
		status = model.RunStatusAborted
	}

	// The final bookkeeping write must land even when the run was
	// cancelled, or aborted runs would stay "running" forever.
	if err := imp.runs.CompleteRun(context.WithoutCancel(ctx), run.ID, status, report, runErrMsg); err != nil {
		log.Warn("import: failed to save run result", zap.Error(err))
	}

	now := time.Now().UTC()
	run.Status = status
	run.Report = report
	run.Error = runErrMsg
	run.FinishedAt = &now

	log.Info("import: run finished",
		zap.String("status", string(status)),
		zap.Int("total", report.Total),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
		zap.Int("regions_created", report.RegionsCreated),
	)

	if srcErr != nil {
		return run, eris.Wrap(srcErr, "importer: source failed")
	}
	return run, nil
}

// processRow advances one row through the pipeline and folds its outcome
// into the report. It never returns an error: row-level failures land in
// the report, and only the stop policy flips report.Aborted.
func (imp *Importer) processRow(ctx context.Context, log *zap.Logger, row model.ImportRow, report *model.ImportReport, regions *regionCache) {
	cand, warns := normalize.Row(row)
	for _, w := range warns {
		report.Warnings = append(report.Warnings, model.RowWarning{Row: row.Line, Message: w})
	}

	if verr := Validate(imp.cfg.Validation, cand); verr != nil {
		switch imp.cfg.Validation.ErrorHandling {
		case model.ErrorHandlingStop:
			report.Errors++
			report.RowErrors = append(report.RowErrors, rowError(row, verr.Error()))
			report.Aborted = true
			log.Error("import: validation failed, stopping run",
				zap.Int("row", row.Line), zap.String("reason", verr.Error()))
			return
		case model.ErrorHandlingSkip:
			report.Skipped++
			report.RowErrors = append(report.RowErrors, rowError(row, verr.Error()))
			log.Debug("import: row skipped by validation",
				zap.Int("row", row.Line), zap.String("reason", verr.Error()))
			return
		case model.ErrorHandlingWarn:
			report.Warnings = append(report.Warnings, model.RowWarning{Row: row.Line, Message: verr.Error()})
		}
	}

	match, err := imp.locator.Locate(ctx, imp.cfg.SearchScope, imp.opts.OwnerID, imp.opts.GroupID, cand)
	if err != nil {
		imp.failRow(log, report, row, err)
		return
	}

	plan := Resolve(imp.cfg, cand, match, imp.opts.GroupID)

	switch plan.Action {
	case model.PlanSkip:
		report.Skipped++
		log.Debug("import: row skipped by policy",
			zap.Int("row", row.Line), zap.String("reason", plan.SkipReason))
	case model.PlanCreate:
		if err := imp.applyCreate(ctx, plan, regions); err != nil {
			imp.failRow(log, report, row, err)
			return
		}
		report.Created++
	case model.PlanUpdate:
		if err := imp.applyUpdate(ctx, plan, regions); err != nil {
			imp.failRow(log, report, row, err)
			return
		}
		report.Updated++
	}
}

func (imp *Importer) applyCreate(ctx context.Context, plan model.ResolutionPlan, regions *regionCache) error {
	c := &model.Client{
		OwnerID: imp.opts.OwnerID,
		Name:    plan.Create.Name,
		Status:  plan.Create.Status,
		Phones:  plan.Create.Phones,
	}
	if plan.Create.RegionName != "" {
		region, err := regions.ensure(ctx, plan.Create.RegionName)
		if err != nil {
			return err
		}
		c.RegionID = region.ID
	}
	if plan.Group.Action == model.GroupActionAdd && plan.Group.GroupID != "" {
		c.GroupIDs = []string{plan.Group.GroupID}
	}
	return imp.clients.CreateClient(ctx, c)
}

func (imp *Importer) applyUpdate(ctx context.Context, plan model.ResolutionPlan, regions *regionCache) error {
	m := client.Merge{
		SetName:     plan.SetName,
		AddPhones:   plan.AddPhones,
		SetStatus:   plan.SetStatus,
		GroupAction: plan.Group.Action,
		GroupID:     plan.Group.GroupID,
	}
	if plan.SetRegionName != "" {
		region, err := regions.ensure(ctx, plan.SetRegionName)
		if err != nil {
			return err
		}
		m.SetRegionID = region.ID
	}
	return imp.clients.MergeClient(ctx, plan.ClientID, m)
}

// failRow marks a row errored. Store errors are never retried or
// swallowed; the row keeps its error and the run moves on.
func (imp *Importer) failRow(log *zap.Logger, report *model.ImportReport, row model.ImportRow, err error) {
	report.Errors++
	report.RowErrors = append(report.RowErrors, rowError(row, err.Error()))
	log.Error("import: row failed", zap.Int("row", row.Line), zap.Error(err))
}

func rowError(row model.ImportRow, msg string) model.RowError {
	return model.RowError{
		Row:     row.Line,
		Message: msg,
		Name:    row.Name,
		Phone:   row.Phone,
		Region:  row.Region,
	}
}

// regionCache resolves raw region names to regions, hitting the store
// only once per distinct folded name per run. The create count feeds the
// report's regionsCreated.
type regionCache struct {
	store   client.Store
	ownerID string
	byName  map[string]model.Region
	created int
}

func newRegionCache(store client.Store, ownerID string) *regionCache {
	return &regionCache{
		store:   store,
		ownerID: ownerID,
		byName:  make(map[string]model.Region),
	}
}

func (rc *regionCache) ensure(ctx context.Context, name string) (model.Region, error) {
	key := normalize.FoldName(name)
	if r, ok := rc.byName[key]; ok {
		return r, nil
	}
	region, created, err := rc.store.EnsureRegion(ctx, rc.ownerID, name)
	if err != nil {
		return model.Region{}, eris.Wrap(err, "importer: ensure region")
	}
	rc.byName[key] = region
	if created {
		rc.created++
	}
	return region, nil
}
