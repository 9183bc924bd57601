// Package resolver merges divergent local and remote copies of an entity
// after the transport reports a version conflict. Each operation kind has
// exactly one merge policy; kinds without one fall back to keeping the
// remote copy and surfacing a notice, so local work is never dropped
// silently.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/agromesh/fieldsync/model"
	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/ports"
)

type (
	mergePolicy func(ctx context.Context, operation model.OperationRecord, remote model.CanonicalState) (ports.ResolveResult, error)

	// Resolver dispatches conflicts through a fixed policy table. Adding
	// an operation kind means adding a row here.
	Resolver struct {
		policies map[model.OperationKind]mergePolicy
		logger   logger.Logger
	}
)

func NewResolver(log logger.Logger) *Resolver {
	resolver := &Resolver{
		logger: log,
	}

	resolver.policies = map[model.OperationKind]mergePolicy{
		model.KindProfileUpdate:          resolver.mergeProfile,
		model.KindDiseaseAnalysisUpload:  resolver.acceptCanonical,
		model.KindFeedback:               resolver.acceptCanonical,
		model.KindConsultationRequest:    resolver.acceptCanonical,
		model.KindPriceAlertSubscription: resolver.mergePriceAlerts,
	}

	return resolver
}

func (r *Resolver) Resolve(ctx context.Context, operation model.OperationRecord, remote model.CanonicalState) (ports.ResolveResult, error) {
	policy, ok := r.policies[operation.Kind]
	if !ok {
		log := r.logger.WithContext(ctx)
		log.Warn().
			Str("operation_id", operation.ID.String()).
			Str("kind", operation.Kind.String()).
			Msg("no merge policy for kind, keeping remote copy")

		return r.discardLocal(operation, remote), nil
	}

	return policy(ctx, operation, remote)
}

// mergeProfile folds the two documents field by field, keeping the stamp
// written last. The local change only counts as discarded when none of its
// field values made it into the merged document.
func (r *Resolver) mergeProfile(ctx context.Context, operation model.OperationRecord, remote model.CanonicalState) (ports.ResolveResult, error) {
	var local, current model.ProfileDocument

	if err := json.Unmarshal(operation.Payload, &local); err != nil {
		log := r.logger.WithContext(ctx)
		log.Warn().Err(err).
			Str("operation_id", operation.ID.String()).
			Msg("local profile payload unreadable, keeping remote copy")

		return r.discardLocal(operation, remote), nil
	}

	if err := json.Unmarshal(remote.Payload, &current); err != nil {
		log := r.logger.WithContext(ctx)
		log.Warn().Err(err).
			Str("operation_id", operation.ID.String()).
			Msg("remote profile payload unreadable, keeping remote copy")

		return r.discardLocal(operation, remote), nil
	}

	merged := model.MergeProfiles(local, current)

	payload, err := json.Marshal(merged)
	if err != nil {
		return ports.ResolveResult{}, fmt.Errorf("encoding merged profile: %w", err)
	}

	result := ports.ResolveResult{
		MergedPayload: payload,
		Version:       remote.Version,
	}

	if profileDiscarded(local, merged) {
		result.LocalDiscarded = true
		result.Notice = model.RemoteWinsNotice(operation.Kind)
	}

	return result, nil
}

// acceptCanonical handles append-only kinds. A conflict here means the
// server already holds the record under its own canonical id, so the
// remote copy replaces the local one wholesale and nothing the user wrote
// is lost.
func (r *Resolver) acceptCanonical(_ context.Context, _ model.OperationRecord, remote model.CanonicalState) (ports.ResolveResult, error) {
	return ports.ResolveResult{
		MergedPayload: remote.Payload,
		Version:       remote.Version,
	}, nil
}

// mergePriceAlerts unions the two subscription sets. A union keeps every
// locally added crop, so the local change always survives.
func (r *Resolver) mergePriceAlerts(ctx context.Context, operation model.OperationRecord, remote model.CanonicalState) (ports.ResolveResult, error) {
	var local, current model.PriceAlertSubscriptions

	if err := json.Unmarshal(operation.Payload, &local); err != nil {
		log := r.logger.WithContext(ctx)
		log.Warn().Err(err).
			Str("operation_id", operation.ID.String()).
			Msg("local price alert payload unreadable, keeping remote copy")

		return r.discardLocal(operation, remote), nil
	}

	if err := json.Unmarshal(remote.Payload, &current); err != nil {
		log := r.logger.WithContext(ctx)
		log.Warn().Err(err).
			Str("operation_id", operation.ID.String()).
			Msg("remote price alert payload unreadable, keeping remote copy")

		return r.discardLocal(operation, remote), nil
	}

	merged := model.MergePriceAlerts(local, current)

	payload, err := json.Marshal(merged)
	if err != nil {
		return ports.ResolveResult{}, fmt.Errorf("encoding merged price alerts: %w", err)
	}

	return ports.ResolveResult{
		MergedPayload: payload,
		Version:       remote.Version,
	}, nil
}

func (r *Resolver) discardLocal(operation model.OperationRecord, remote model.CanonicalState) ports.ResolveResult {
	return ports.ResolveResult{
		MergedPayload:  remote.Payload,
		Version:        remote.Version,
		LocalDiscarded: true,
		Notice:         model.RemoteWinsNotice(operation.Kind),
	}
}

// profileDiscarded reports whether the merge kept none of the local field
// values. A field whose merged value matches the local one counts as kept,
// even when the remote stamp won; both sides already agree on it.
func profileDiscarded(local, merged model.ProfileDocument) bool {
	if len(local.Fields) == 0 {
		return false
	}

	for name, stamp := range local.Fields {
		if kept, ok := merged.Fields[name]; ok && bytes.Equal(kept.Value, stamp.Value) {
			return false
		}
	}

	return true
}
