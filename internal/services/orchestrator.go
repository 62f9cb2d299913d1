package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/data/repos"
	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
)

type OrchestratorConfig struct {
	// Defaults fills every GenerationConfig field a request leaves out.
	Defaults        types.GenerationConfig
	MinAnswers      int
	Workers         int
	PerCallEstimate time.Duration
	ClusterTimeout  time.Duration
	Pricing         *PricingCatalog
	PollURLPrefix   string
}

// AlgorithmConfig is the caller-tunable part of a GenerationConfig. Zero
// values fall back to the configured defaults.
type AlgorithmConfig struct {
	Algorithm             string `json:"algorithm"`
	TargetClusters        int    `json:"target_clusters"`
	MinClusterSize        int    `json:"min_cluster_size"`
	EmbeddingModel        string `json:"embedding_model"`
	LabelingModel         string `json:"labeling_model"`
	MaxDepth              int    `json:"max_depth"`
	PerClusterTokenBudget int    `json:"per_cluster_token_budget"`
}

type StartRequest struct {
	CategoryID      uuid.UUID        `json:"category_id"`
	AlgorithmConfig *AlgorithmConfig `json:"algorithm_config"`
	TargetLanguage  string           `json:"target_language"`
}

type StartResponse struct {
	GenerationID         uuid.UUID              `json:"generation_id"`
	Status               types.GenerationStatus `json:"status"`
	NClusters            int                    `json:"n_clusters"`
	NAnswers             int                    `json:"n_answers"`
	EstimatedTimeSeconds int                    `json:"estimated_time_seconds"`
	PollURL              string                 `json:"poll_url"`
	CostEstimate         CostEstimate           `json:"cost_estimate"`
}

// GenerationSnapshot is the pollable view of a Generation.
type GenerationSnapshot struct {
	GenerationID     uuid.UUID               `json:"generation_id"`
	CategoryID       uuid.UUID               `json:"category_id"`
	Status           types.GenerationStatus  `json:"status"`
	CurrentStep      string                  `json:"current_step"`
	ProgressPercent  int                     `json:"progress_percent"`
	NAnswers         int                     `json:"n_answers"`
	NClusters        int                     `json:"n_clusters"`
	NCompleted       int                     `json:"n_completed"`
	NFailed          int                     `json:"n_failed"`
	TokensUsed       int64                   `json:"tokens_used"`
	CostUSD          float64                 `json:"cost_usd"`
	EstimatedCostUSD float64                 `json:"estimated_cost_usd"`
	ProcessingTimeMS int64                   `json:"processing_time_ms"`
	Result           *types.GenerationResult `json:"result"`
	Error            *types.GenerationError  `json:"error"`
	CreatedAt        time.Time               `json:"created_at"`
	StartedAt        *time.Time              `json:"started_at,omitempty"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
}

// GenerationSettler is what the job runtime needs from the orchestrator.
// Counter methods must run in the same transaction that settles the job row.
type GenerationSettler interface {
	MarkProcessing(dbc dbctx.Context, generationID uuid.UUID) (bool, error)
	SettleSuccess(dbc dbctx.Context, generationID uuid.UUID, tokens int64, costUSD float64) (bool, error)
	SettleFailure(dbc dbctx.Context, generationID uuid.UUID) (bool, error)
	// AfterSettle runs outside the settling transaction and finalizes once
	// every job has settled.
	AfterSettle(dbc dbctx.Context, generationID uuid.UUID) error
	OwnerActive(dbc dbctx.Context, generationID uuid.UUID) (bool, error)
}

type Orchestrator interface {
	GenerationSettler
	Start(dbc dbctx.Context, req StartRequest) (*StartResponse, error)
	Status(dbc dbctx.Context, generationID uuid.UUID) (*GenerationSnapshot, error)
	Delete(dbc dbctx.Context, generationID uuid.UUID) error
}

type orchestrator struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         OrchestratorConfig
	generations repos.GenerationRepo
	nodes       repos.HierarchyNodeRepo
	answers     AnswerStore
	embeddings  EmbeddingCacheService
	clusterer   Clusterer
	jobs        queue.Enqueuer
	results     JobResults
	locker      Locker
	notifier    ProgressNotifier
	now         func() time.Time
}

func NewOrchestrator(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg OrchestratorConfig,
	generations repos.GenerationRepo,
	nodes repos.HierarchyNodeRepo,
	answers AnswerStore,
	embeddings EmbeddingCacheService,
	clusterer Clusterer,
	jobs queue.Enqueuer,
	results JobResults,
	locker Locker,
	notifier ProgressNotifier,
) Orchestrator {
	if cfg.MinAnswers <= 0 {
		cfg.MinAnswers = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PerCallEstimate <= 0 {
		cfg.PerCallEstimate = 8 * time.Second
	}
	if cfg.ClusterTimeout <= 0 {
		cfg.ClusterTimeout = 2 * time.Minute
	}
	if cfg.Pricing == nil {
		cfg.Pricing, _ = LoadPricingCatalog(nil)
	}
	if cfg.PollURLPrefix == "" {
		cfg.PollURLPrefix = "/generations"
	}
	if locker == nil {
		locker = NewKeyedLocker()
	}
	if notifier == nil {
		notifier = NewNoopProgressNotifier()
	}
	return &orchestrator{
		db:          db,
		log:         baseLog.With("service", "GenerationOrchestrator"),
		cfg:         cfg,
		generations: generations,
		nodes:       nodes,
		answers:     answers,
		embeddings:  embeddings,
		clusterer:   clusterer,
		jobs:        jobs,
		results:     results,
		locker:      locker,
		notifier:    notifier,
		now:         time.Now,
	}
}

// BuildGenerationConfig merges a request onto the defaults and validates the
// result.
func BuildGenerationConfig(defaults types.GenerationConfig, ac *AlgorithmConfig, targetLanguage string) (types.GenerationConfig, error) {
	cfg := defaults
	cfg.Version = codeframe.GenerationConfigVersion
	if ac != nil {
		if ac.Algorithm != "" {
			cfg.Algorithm = strings.ToLower(strings.TrimSpace(ac.Algorithm))
		}
		if ac.TargetClusters != 0 {
			cfg.TargetClusters = ac.TargetClusters
		}
		if ac.MinClusterSize != 0 {
			cfg.MinClusterSize = ac.MinClusterSize
		}
		if ac.EmbeddingModel != "" {
			cfg.EmbeddingModel = strings.TrimSpace(ac.EmbeddingModel)
		}
		if ac.LabelingModel != "" {
			cfg.LabelingModel = strings.TrimSpace(ac.LabelingModel)
		}
		if ac.MaxDepth != 0 {
			cfg.MaxDepth = ac.MaxDepth
		}
		if ac.PerClusterTokenBudget != 0 {
			cfg.PerClusterTokenBudget = ac.PerClusterTokenBudget
		}
	}
	if lang := strings.TrimSpace(targetLanguage); lang != "" {
		cfg.TargetLanguage = lang
	}
	if err := cfg.Validate(); err != nil {
		return types.GenerationConfig{}, err
	}
	return cfg, nil
}

func (o *orchestrator) Start(dbc dbctx.Context, req StartRequest) (*StartResponse, error) {
	ctx, span := observability.StartSpan(dbc.Ctx, "orchestrator.start",
		attribute.String("category_id", req.CategoryID.String()))
	defer span.End()
	dbc.Ctx = ctx

	if req.CategoryID == uuid.Nil {
		return nil, apierr.Validation("category_id is required")
	}
	cfg, err := BuildGenerationConfig(o.cfg.Defaults, req.AlgorithmConfig, req.TargetLanguage)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	rawCfg, err := codeframe.EncodeGenerationConfig(cfg)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}

	answers, err := o.answers.ListByCategory(dbc, req.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	if len(answers) < o.cfg.MinAnswers {
		return nil, apierr.FatalConfig("category has %d answers; at least %d are required", len(answers), o.cfg.MinAnswers)
	}

	now := o.now()
	g := &types.Generation{
		ID:          uuid.New(),
		CategoryID:  req.CategoryID,
		Status:      types.GenerationPending,
		Config:      rawCfg,
		CurrentStep: codeframe.StepEmbedding,
		NAnswers:    len(answers),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.generations.Create(dbc, g); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	log := o.log.With("generation_id", g.ID, "category_id", req.CategoryID)
	log.Info("generation created", "answers", len(answers), "algorithm", cfg.Algorithm)

	ids := make([]uuid.UUID, 0, len(answers))
	texts := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		ids = append(ids, a.ID)
		texts[a.ID] = a.Text
	}

	report, err := o.embeddings.EnsureEmbeddings(dbc, ids, cfg.EmbeddingModel)
	if err != nil {
		o.failPending(dbc, g, types.GenerationError{
			Cause:     codeframe.CauseUpstreamUnavailable,
			Message:   fmt.Sprintf("embedding cache: %v", err),
			Retryable: true,
		})
		return nil, apierr.Upstream(err, "embedding")
	}
	if cov := report.Coverage(); cov < cfg.MinEmbeddingCoverage {
		o.failPending(dbc, g, types.GenerationError{
			Cause:   codeframe.CauseEmbeddingCoverage,
			Message: fmt.Sprintf("embedded %d of %d answers (%.0f%%), below the %.0f%% minimum", report.Cached+report.Computed, report.Requested, cov*100, cfg.MinEmbeddingCoverage*100),
		})
		return nil, apierr.FatalConfig("embedding coverage %.2f below minimum %.2f", cov, cfg.MinEmbeddingCoverage)
	}

	vectors, err := o.embeddings.Vectors(dbc, ids, cfg.EmbeddingModel)
	if err != nil {
		o.failPending(dbc, g, internalError(err))
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	points := make([]types.ClusterPoint, 0, len(vectors))
	for _, id := range ids {
		if v, ok := vectors[id]; ok {
			points = append(points, types.ClusterPoint{AnswerID: id, Vector: v})
		}
	}
	if err := o.generations.UpdateFields(dbc, g.ID, map[string]interface{}{"current_step": codeframe.StepClustering}); err != nil {
		o.failPending(dbc, g, internalError(err))
		return nil, fmt.Errorf("mark clustering: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.ClusterTimeout)
	assignments, err := o.clusterer.Cluster(cctx, types.ClusterRequest{
		Algorithm:      cfg.Algorithm,
		TargetClusters: cfg.TargetClusters,
		MinClusterSize: cfg.MinClusterSize,
		Points:         points,
	})
	cancel()
	if err != nil {
		log.Warn("clustering failed", "error", err)
		o.failPending(dbc, g, types.GenerationError{
			Cause:     codeframe.CauseUpstreamUnavailable,
			Message:   fmt.Sprintf("clustering service: %v", err),
			Retryable: true,
		})
		return nil, apierr.Upstream(err, "clustering")
	}

	jobs := make([]*types.ClusterJob, 0, len(assignments))
	for _, as := range assignments {
		p := types.ClusterPayload{
			ClusterID:      as.ClusterID,
			TargetLanguage: cfg.TargetLanguage,
			LabelingModel:  cfg.LabelingModel,
			TokenBudget:    cfg.PerClusterTokenBudget,
		}
		for _, id := range as.AnswerIDs {
			text, ok := texts[id]
			if !ok {
				continue
			}
			p.AnswerIDs = append(p.AnswerIDs, id)
			p.Texts = append(p.Texts, text)
		}
		if len(p.AnswerIDs) == 0 {
			continue
		}
		payload, err := codeframe.EncodeClusterPayload(p)
		if err != nil {
			o.failPending(dbc, g, internalError(err))
			return nil, fmt.Errorf("encode cluster %d: %w", as.ClusterID, err)
		}
		jobs = append(jobs, &types.ClusterJob{
			GenerationID: g.ID,
			ClusterID:    as.ClusterID,
			Payload:      payload,
		})
	}
	if len(jobs) == 0 {
		o.failPending(dbc, g, types.GenerationError{
			Cause:   codeframe.CauseNoClusters,
			Message: "clustering produced no clusters",
		})
		return nil, apierr.FatalConfig("clustering produced no clusters for %d answers", len(points))
	}

	estimate := EstimateCost(len(jobs), cfg.PerClusterTokenBudget, o.cfg.Pricing.Lookup(cfg.LabelingModel))
	err = dbc.DB(o.db).Transaction(func(tx *gorm.DB) error {
		tdbc := dbc.With(tx)
		if err := o.generations.UpdateFields(tdbc, g.ID, map[string]interface{}{
			"n_clusters":         len(jobs),
			"estimated_cost_usd": estimate.EstimatedCostUSD,
			"current_step":       codeframe.StepQueued,
		}); err != nil {
			return err
		}
		return o.jobs.Enqueue(tdbc, jobs...)
	})
	if err != nil {
		o.failPending(dbc, g, internalError(err))
		return nil, fmt.Errorf("enqueue cluster jobs: %w", err)
	}
	g.NClusters = len(jobs)
	g.EstimatedCostUSD = estimate.EstimatedCostUSD
	g.CurrentStep = codeframe.StepQueued
	o.notifier.GenerationProgress(ctx, g)
	log.Info("cluster jobs enqueued", "clusters", len(jobs), "estimated_cost_usd", estimate.EstimatedCostUSD)

	return &StartResponse{
		GenerationID:         g.ID,
		Status:               g.Status,
		NClusters:            len(jobs),
		NAnswers:             len(answers),
		EstimatedTimeSeconds: EstimateDuration(len(jobs), o.cfg.Workers, o.cfg.PerCallEstimate),
		PollURL:              fmt.Sprintf("%s/%s/status", strings.TrimRight(o.cfg.PollURLPrefix, "/"), g.ID),
		CostEstimate:         estimate,
	}, nil
}

func internalError(err error) types.GenerationError {
	return types.GenerationError{Cause: codeframe.CauseInternal, Message: err.Error(), Retryable: true}
}

// failPending records a fatal pre-clustering error. The Generation never
// reached processing, so nothing else can be writing it.
func (o *orchestrator) failPending(dbc dbctx.Context, g *types.Generation, gerr types.GenerationError) {
	if _, err := o.fail(dbc, g, types.GenerationPending, gerr); err != nil {
		o.log.Error("record generation failure", "generation_id", g.ID, "error", err)
	}
}

// fail moves g from status from to failed. It returns false when another
// writer already moved it.
func (o *orchestrator) fail(dbc dbctx.Context, g *types.Generation, from types.GenerationStatus, gerr types.GenerationError) (bool, error) {
	if gerr.TotalClusters == 0 {
		gerr.TotalClusters = g.NClusters
	}
	raw, err := codeframe.EncodeGenerationError(gerr)
	if err != nil {
		return false, err
	}
	now := o.now()
	updates := map[string]interface{}{
		"status":       types.GenerationFailed,
		"error":        raw,
		"current_step": codeframe.StepDone,
		"completed_at": now,
	}
	if g.StartedAt != nil {
		updates["processing_time_ms"] = now.Sub(*g.StartedAt).Milliseconds()
	}
	ok, err := o.generations.UpdateFieldsIfStatus(dbc, g.ID, from, updates)
	if err != nil || !ok {
		return ok, err
	}
	g.Status = types.GenerationFailed
	g.Error = raw
	g.CompletedAt = &now
	observability.Current().IncGeneration(string(types.GenerationFailed), gerr.Cause)
	o.log.Warn("generation failed", "generation_id", g.ID, "cause", gerr.Cause, "message", gerr.Message)
	o.notifier.GenerationProgress(dbc.Ctx, g)
	return true, nil
}

func (o *orchestrator) MarkProcessing(dbc dbctx.Context, generationID uuid.UUID) (bool, error) {
	now := o.now()
	ok, err := o.generations.UpdateFieldsIfStatus(dbc, generationID, types.GenerationPending, map[string]interface{}{
		"status":       types.GenerationProcessing,
		"started_at":   now,
		"current_step": codeframe.StepLabeling,
	})
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	if ok {
		o.log.Info("generation processing", "generation_id", generationID)
	}
	return ok, nil
}

func (o *orchestrator) SettleSuccess(dbc dbctx.Context, generationID uuid.UUID, tokens int64, costUSD float64) (bool, error) {
	return o.generations.IncrementCompleted(dbc, generationID, tokens, costUSD)
}

func (o *orchestrator) SettleFailure(dbc dbctx.Context, generationID uuid.UUID) (bool, error) {
	return o.generations.IncrementFailed(dbc, generationID)
}

func (o *orchestrator) OwnerActive(dbc dbctx.Context, generationID uuid.UUID) (bool, error) {
	g, err := o.generations.GetByID(dbc, generationID)
	if err != nil {
		return false, err
	}
	return g != nil && g.Status == types.GenerationProcessing, nil
}

func (o *orchestrator) AfterSettle(dbc dbctx.Context, generationID uuid.UUID) error {
	g, err := o.generations.GetByID(dbc, generationID)
	if err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	o.notifier.GenerationProgress(dbc.Ctx, g)
	if g.Status != types.GenerationProcessing || !g.AllSettled() {
		return nil
	}
	return o.finalize(dbc, g)
}

var errFinalizeLost = errors.New("generation already finalized")

func (o *orchestrator) finalize(dbc dbctx.Context, g *types.Generation) error {
	ctx, span := observability.StartSpan(dbc.Ctx, "orchestrator.finalize",
		attribute.String("generation_id", g.ID.String()))
	defer span.End()
	dbc.Ctx = ctx

	cfg, err := codeframe.DecodeGenerationConfig(g.Config, o.cfg.Defaults)
	if err != nil {
		_, ferr := o.fail(dbc, g, types.GenerationProcessing, types.GenerationError{
			Cause:   codeframe.CauseInternal,
			Message: err.Error(),
		})
		return ferr
	}

	coverage := float64(g.NCompleted) / float64(g.NClusters)
	if coverage < cfg.MinClusterCoverage {
		_, err := o.fail(dbc, g, types.GenerationProcessing, types.GenerationError{
			Cause: codeframe.CauseClusterCoverage,
			Message: fmt.Sprintf("%d of %d clusters failed labeling; coverage %.0f%% is below the %.0f%% minimum",
				g.NFailed, g.NClusters, coverage*100, cfg.MinClusterCoverage*100),
			AffectedClusters: g.NFailed,
			TotalClusters:    g.NClusters,
			Retryable:        true,
		})
		return err
	}

	ok, err := o.generations.UpdateFieldsIfStatus(dbc, g.ID, types.GenerationProcessing, map[string]interface{}{
		"current_step": codeframe.StepFinalizing,
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	g.CurrentStep = codeframe.StepFinalizing
	o.notifier.GenerationProgress(ctx, g)

	var (
		result types.GenerationResult
		now    = o.now()
	)
	err = dbc.DB(o.db).Transaction(func(tx *gorm.DB) error {
		tdbc := dbc.With(tx)
		jobs, err := o.results.ListCompleted(tdbc, g.ID)
		if err != nil {
			return fmt.Errorf("load cluster results: %w", err)
		}
		labels := make([]types.ClusterLabel, 0, len(jobs))
		for _, j := range jobs {
			l, err := codeframe.DecodeClusterLabel(j.Result)
			if err != nil {
				o.log.Warn("skipping unreadable cluster result", "generation_id", g.ID, "job_id", j.ID, "error", err)
				continue
			}
			labels = append(labels, l)
		}

		nodes, stats := buildHierarchy(g.ID, labels, g.NAnswers)
		if err := o.nodes.CreateBatch(tdbc, nodes); err != nil {
			return fmt.Errorf("persist hierarchy: %w", err)
		}

		result = types.GenerationResult{
			NThemes:   stats.nThemes,
			NCodes:    stats.nCodes,
			MECEScore: stats.mece,
			Coverage:  round3(coverage),
			Warnings:  stats.warnings,
		}
		if g.NFailed > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d of %d clusters failed labeling and are not in the codeframe", g.NFailed, g.NClusters))
		}
		if warn, ok := CheckCostOverrun(g.EstimatedCostUSD, g.CostUSD, cfg.CostTolerance); !ok {
			result.Warnings = append(result.Warnings, warn)
		}
		raw, err := codeframe.EncodeGenerationResult(result)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":           types.GenerationCompleted,
			"result":           raw,
			"progress_percent": 100,
			"current_step":     codeframe.StepDone,
			"completed_at":     now,
		}
		if g.StartedAt != nil {
			updates["processing_time_ms"] = now.Sub(*g.StartedAt).Milliseconds()
		}
		ok, err := o.generations.UpdateFieldsIfStatus(tdbc, g.ID, types.GenerationProcessing, updates)
		if err != nil {
			return err
		}
		if !ok {
			return errFinalizeLost
		}
		return nil
	})
	if errors.Is(err, errFinalizeLost) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize generation %s: %w", g.ID, err)
	}

	g.Status = types.GenerationCompleted
	g.ProgressPercent = 100
	g.CurrentStep = codeframe.StepDone
	g.CompletedAt = &now
	observability.Current().IncGeneration(string(types.GenerationCompleted), "")
	o.log.Info("generation completed",
		"generation_id", g.ID,
		"themes", result.NThemes,
		"codes", result.NCodes,
		"mece", result.MECEScore,
		"failed_clusters", g.NFailed,
	)
	o.notifier.GenerationProgress(ctx, g)
	return nil
}

func (o *orchestrator) Status(dbc dbctx.Context, generationID uuid.UUID) (*GenerationSnapshot, error) {
	g, err := o.generations.GetByID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, apierr.NotFound("generation %s not found", generationID)
	}
	snap := &GenerationSnapshot{
		GenerationID:     g.ID,
		CategoryID:       g.CategoryID,
		Status:           g.Status,
		CurrentStep:      g.CurrentStep,
		ProgressPercent:  g.ProgressPercent,
		NAnswers:         g.NAnswers,
		NClusters:        g.NClusters,
		NCompleted:       g.NCompleted,
		NFailed:          g.NFailed,
		TokensUsed:       g.TokensUsed,
		CostUSD:          g.CostUSD,
		EstimatedCostUSD: g.EstimatedCostUSD,
		ProcessingTimeMS: g.ProcessingTimeMS,
		CreatedAt:        g.CreatedAt,
		StartedAt:        g.StartedAt,
		CompletedAt:      g.CompletedAt,
	}
	if snap.Result, err = codeframe.DecodeGenerationResult(g.Result); err != nil {
		return nil, err
	}
	if snap.Error, err = codeframe.DecodeGenerationError(g.Error); err != nil {
		return nil, err
	}
	return snap, nil
}

// Delete removes the Generation with its nodes and jobs. Workers holding one
// of its jobs notice at their next checkpoint.
func (o *orchestrator) Delete(dbc dbctx.Context, generationID uuid.UUID) error {
	unlock, err := o.locker.Lock(dbc.Ctx, generationLockName(generationID))
	if err != nil {
		return fmt.Errorf("lock generation: %w", err)
	}
	defer unlock()

	err = dbc.DB(o.db).Transaction(func(tx *gorm.DB) error {
		tdbc := dbc.With(tx)
		ok, err := o.generations.Delete(tdbc, generationID)
		if err != nil {
			return err
		}
		if !ok {
			return apierr.NotFound("generation %s not found", generationID)
		}
		if _, err := o.nodes.DeleteByGeneration(tdbc, generationID); err != nil {
			return err
		}
		_, err = o.results.DeleteByGeneration(tdbc, generationID)
		return err
	})
	if err != nil {
		return err
	}
	o.log.Info("generation deleted", "generation_id", generationID)
	return nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
