package cluster_label

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/codeframe-backend/internal/domain/codeframe"
	jobrt "github.com/yungbote/codeframe-backend/internal/jobs/runtime"
	"github.com/yungbote/codeframe-backend/internal/observability"
	"github.com/yungbote/codeframe-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	payload, err := jc.Payload()
	if err != nil {
		return jc.FailFinal(fmt.Errorf("validate: %w", err))
	}

	if err := jc.Checkpoint(map[string]any{"stage": "labeling", "attempt": jc.Job.Attempts}); err != nil {
		if stop(err) {
			jc.Abort(err)
			return nil
		}
		return err
	}

	ctx, span := observability.StartSpan(jc.Ctx, "cluster_label.label",
		attribute.Int("cluster_id", payload.ClusterID),
		attribute.Int("answers", len(payload.AnswerIDs)),
		attribute.Int("attempt", jc.Job.Attempts))
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	label, err := p.labeler.Label(callCtx, codeframe.LabelRequestFromPayload(payload))
	cancel()
	span.End()
	if err != nil {
		return jc.Fail(fmt.Errorf("label cluster %d: %w", payload.ClusterID, err))
	}
	if label == nil {
		return jc.FailFinal(fmt.Errorf("label cluster %d: empty response", payload.ClusterID))
	}

	label.ClusterID = payload.ClusterID
	label.CostUSD = services.CostOfTokens(label.TokensUsed, p.pricing.Lookup(payload.LabelingModel))
	raw, err := codeframe.EncodeClusterLabel(*label)
	if err != nil {
		return jc.FailFinal(err)
	}
	observability.Current().AddLLMUsage(payload.LabelingModel, label.TokensUsed, label.CostUSD)

	// The labeling call may have outlived the Generation.
	if err := jc.Checkpoint(raw); err != nil {
		if stop(err) {
			jc.Abort(err)
			return nil
		}
		return err
	}
	return jc.Succeed(raw, label.TokensUsed, label.CostUSD)
}

func stop(err error) bool {
	return errors.Is(err, jobrt.ErrOwnerGone) || errors.Is(err, jobrt.ErrLeaseLost)
}
