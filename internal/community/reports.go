package community

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ecocash/internal/model"
	"ecocash/internal/store"
)

// Service handles community reports and sightings and their evidence-support
// counters.
type Service struct {
	store store.Gateway
	log   *zap.Logger
}

func New(g store.Gateway, log *zap.Logger) *Service {
	return &Service{store: g, log: log}
}

type CreateReportInput struct {
	AuthorID    string `json:"author_id"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
}

func (s *Service) CreateReport(ctx context.Context, in CreateReportInput) (model.Report, error) {
	if in.AuthorID == "" || in.Description == "" {
		return model.Report{}, fmt.Errorf("%w: author and description are required", model.ErrValidation)
	}
	report := model.Report{
		ID:          model.NewID(model.PrefixReport),
		AuthorID:    in.AuthorID,
		Description: in.Description,
		Category:    in.Category,
		Location:    in.Location,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, model.CollectionReports, report.ID, report); err != nil {
		return model.Report{}, err
	}
	return report, nil
}

// SupportReport adds one piece of supporting evidence to the report.
func (s *Service) SupportReport(ctx context.Context, reportID string) error {
	snap, err := s.store.Get(ctx, model.CollectionReports, reportID)
	if err != nil {
		return err
	}
	var report model.Report
	if err := snap.Decode(&report); err != nil {
		return err
	}
	_, err = s.store.Update(ctx, model.CollectionReports, reportID, snap.Rev, map[string]any{
		"support_count": report.SupportCount + 1,
	})
	return err
}

func (s *Service) Reports(ctx context.Context) ([]model.Report, error) {
	snaps, err := s.store.List(ctx, model.CollectionReports)
	if err != nil {
		return nil, err
	}
	out := make([]model.Report, 0, len(snaps))
	for _, snap := range snaps {
		var report model.Report
		if err := snap.Decode(&report); err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

type CreateSightingInput struct {
	ReporterID string `json:"reporter_id"`
	Label      string `json:"label"`
	Location   string `json:"location"`
}

func (s *Service) CreateSighting(ctx context.Context, in CreateSightingInput) (model.Sighting, error) {
	if in.ReporterID == "" || in.Label == "" {
		return model.Sighting{}, fmt.Errorf("%w: reporter and label are required", model.ErrValidation)
	}
	sighting := model.Sighting{
		ID:         model.NewID(model.PrefixSighting),
		ReporterID: in.ReporterID,
		Label:      in.Label,
		Location:   in.Location,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Create(ctx, model.CollectionSightings, sighting.ID, sighting); err != nil {
		return model.Sighting{}, err
	}
	return sighting, nil
}

// ConfirmSighting adds one independent confirmation.
func (s *Service) ConfirmSighting(ctx context.Context, sightingID string) error {
	snap, err := s.store.Get(ctx, model.CollectionSightings, sightingID)
	if err != nil {
		return err
	}
	var sighting model.Sighting
	if err := snap.Decode(&sighting); err != nil {
		return err
	}
	_, err = s.store.Update(ctx, model.CollectionSightings, sightingID, snap.Rev, map[string]any{
		"confirmations": sighting.Confirmations + 1,
	})
	return err
}

func (s *Service) Sightings(ctx context.Context) ([]model.Sighting, error) {
	snaps, err := s.store.List(ctx, model.CollectionSightings)
	if err != nil {
		return nil, err
	}
	out := make([]model.Sighting, 0, len(snaps))
	for _, snap := range snaps {
		var sighting model.Sighting
		if err := snap.Decode(&sighting); err != nil {
			return nil, err
		}
		out = append(out, sighting)
	}
	return out, nil
}
