package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/CoderXiaopang/npm-meta/backend/internal/models"
	"github.com/CoderXiaopang/npm-meta/backend/internal/npm"
)

// MergedStream is the externally visible view of a stream: NPM's rule fields
// plus the local annotation and the latest health observation.
type MergedStream struct {
	npm.Stream
	Memo            string `json:"memo"`
	DocURL          string `json:"doc_url"`
	TestURL         string `json:"test_url"`
	RepoURL         string `json:"repo_url"`
	HealthStatus    string `json:"health_status"`
	HealthMsg       string `json:"health_msg"`
	HealthLastCheck *int64 `json:"health_last_check"`
}

// StreamInput carries the user-editable fields of a create or update.
type StreamInput struct {
	IncomingPort   int
	ForwardingHost string
	ForwardingPort int
	Memo           string
	DocURL         string
	TestURL        string
	RepoURL        string
}

// StreamService reconciles the three data sources (NPM, annotations, health)
// and fronts all stream writes with validation and the port-conflict guard.
type StreamService struct {
	db     *gorm.DB
	client *npm.Client
	health *HealthService
}

// NewStreamService creates the reconciliation service.
func NewStreamService(db *gorm.DB, client *npm.Client, health *HealthService) *StreamService {
	return &StreamService{db: db, client: client, health: health}
}

// ListMerged fetches the live stream list with the caller's token, refreshes
// the health daemon's fallback snapshot, and merges in annotations and health
// records. Streams with no annotation get empty fields; streams never probed
// report unknown/"Pending...". Output keeps NPM's ordering.
func (s *StreamService) ListMerged(ctx context.Context, token string) ([]MergedStream, error) {
	streams, err := s.client.ListStreams(ctx, token)
	if err != nil {
		return nil, err
	}

	s.health.SetLastStreams(streams)

	var metas []models.StreamMeta
	if err := s.db.Find(&metas).Error; err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	byID := make(map[uint]models.StreamMeta, len(metas))
	for _, meta := range metas {
		byID[meta.NPMID] = meta
	}

	merged := make([]MergedStream, 0, len(streams))
	for _, stream := range streams {
		out := MergedStream{
			Stream:       stream,
			HealthStatus: models.HealthStatusUnknown,
			HealthMsg:    models.PendingHealthMsg,
		}

		meta, ok := byID[stream.ID]
		if ok {
			out.Memo = meta.Memo
			out.DocURL = meta.DocURL
			out.TestURL = meta.TestURL
			out.RepoURL = meta.RepoURL
		}

		// The durable store wins over the in-memory cache; the cache only
		// covers streams probed since the last persisted write.
		switch {
		case ok && meta.HealthStatus != "":
			out.HealthStatus = meta.HealthStatus
			out.HealthMsg = meta.HealthMsg
			out.HealthLastCheck = meta.HealthLastCheck
		default:
			if rec, cached := s.health.StatusFor(stream.ID); cached {
				unix := rec.LastCheck.Unix()
				out.HealthStatus = rec.Status
				out.HealthMsg = rec.Message
				out.HealthLastCheck = &unix
			}
		}

		merged = append(merged, out)
	}

	return merged, nil
}

// Create validates the input, runs the conflict guard, delegates the create
// to NPM and stores the annotation under the id NPM assigned.
func (s *StreamService) Create(ctx context.Context, token string, input StreamInput) (*npm.Stream, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := s.guardPortConflict(ctx, token, input.IncomingPort, 0); err != nil {
		return nil, err
	}

	stream, err := s.client.CreateStream(ctx, token, npm.NewStreamRequest(input.IncomingPort, input.ForwardingHost, input.ForwardingPort))
	if err != nil {
		return nil, err
	}

	if err := s.saveAnnotation(stream.ID, input); err != nil {
		return nil, fmt.Errorf("stream %d created but annotation not saved: %w", stream.ID, err)
	}

	return stream, nil
}

// Update validates, runs the conflict guard excluding the stream itself,
// updates the rule in NPM and overwrites the annotation.
func (s *StreamService) Update(ctx context.Context, token string, id uint, input StreamInput) (*npm.Stream, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := s.guardPortConflict(ctx, token, input.IncomingPort, id); err != nil {
		return nil, err
	}

	stream, err := s.client.UpdateStream(ctx, token, id, npm.NewStreamRequest(input.IncomingPort, input.ForwardingHost, input.ForwardingPort))
	if err != nil {
		return nil, err
	}

	if err := s.saveAnnotation(id, input); err != nil {
		return nil, fmt.Errorf("stream %d updated but annotation not saved: %w", id, err)
	}

	return stream, nil
}

// Delete removes the rule in NPM, then blanks the annotation. The health
// columns are left untouched so the last observation remains visible in the
// store even for a dead stream.
func (s *StreamService) Delete(ctx context.Context, token string, id uint) error {
	if err := s.client.DeleteStream(ctx, token, id); err != nil {
		return err
	}

	res := s.db.Model(&models.StreamMeta{}).Where("npm_id = ?", id).Updates(map[string]interface{}{
		"memo":     "",
		"doc_url":  "",
		"test_url": "",
		"repo_url": "",
	})
	if res.Error != nil {
		return fmt.Errorf("stream %d deleted but annotation not cleared: %w", id, res.Error)
	}

	return nil
}

// SetEnabled toggles the stream in NPM. The annotation is unaffected.
func (s *StreamService) SetEnabled(ctx context.Context, token string, id uint, enabled bool) error {
	return s.client.SetStreamEnabled(ctx, token, id, enabled)
}

// guardPortConflict rejects an incoming port already assigned to a different
// stream. Best effort: NPM can still race us between check and write; its own
// validation stays the final authority.
func (s *StreamService) guardPortConflict(ctx context.Context, token string, incomingPort int, selfID uint) error {
	streams, err := s.client.ListStreams(ctx, token)
	if err != nil {
		return err
	}

	s.health.SetLastStreams(streams)

	for _, stream := range streams {
		if stream.IncomingPort == incomingPort && stream.ID != selfID {
			return fmt.Errorf("%w: incoming port %d is already used by stream %d", ErrConflict, incomingPort, stream.ID)
		}
	}

	return nil
}

// saveAnnotation upserts only the annotation columns so a concurrent probe
// result is never overwritten.
func (s *StreamService) saveAnnotation(id uint, input StreamInput) error {
	res := s.db.Model(&models.StreamMeta{}).Where("npm_id = ?", id).Updates(map[string]interface{}{
		"memo":     input.Memo,
		"doc_url":  input.DocURL,
		"test_url": input.TestURL,
		"repo_url": input.RepoURL,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	meta := models.StreamMeta{
		NPMID:   id,
		Memo:    input.Memo,
		DocURL:  input.DocURL,
		TestURL: input.TestURL,
		RepoURL: input.RepoURL,
	}
	return s.db.Create(&meta).Error
}

func validateInput(input StreamInput) error {
	if input.ForwardingHost == "" {
		return fmt.Errorf("%w: forwarding host is required", ErrValidation)
	}
	if !validPort(input.IncomingPort) || !validPort(input.ForwardingPort) {
		return fmt.Errorf("%w: ports must be between 1 and 65535", ErrValidation)
	}

	return nil
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
