package video

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aix/internal/domain"
	"aix/internal/poller"
	"aix/internal/providers/genai"
)

// VideoAPI is the slice of the Gemini client used to run a Veo job.
type VideoAPI interface {
	StartVideo(ctx context.Context, req genai.VideoRequest) (string, error)
	GetOperation(ctx context.Context, name string) (genai.Operation, error)
	Download(ctx context.Context, uri string) ([]byte, string, error)
}

// Veo runs text-to-video jobs as Gemini long-running operations.
type Veo struct {
	api VideoAPI
}

func NewVeo(api VideoAPI) *Veo {
	return &Veo{api: api}
}

func (v *Veo) Submit(ctx context.Context, req domain.GenerationRequest) (domain.JobHandle, error) {
	name, err := v.api.StartVideo(ctx, genai.VideoRequest{
		Prompt:         req.Prompt,
		NumberOfVideos: domain.NumberOfVideos,
		Resolution:     domain.Resolution,
		AspectRatio:    domain.AspectRatio,
	})
	if err != nil {
		return "", err
	}
	return domain.JobHandle(name), nil
}

func (v *Veo) Poll(ctx context.Context, handle domain.JobHandle) (domain.PollResult, error) {
	op, err := v.api.GetOperation(ctx, string(handle))
	if err != nil {
		return domain.PollResult{}, err
	}
	if op.Error != "" {
		return domain.PollResult{}, fmt.Errorf("operation %s failed: %s", op.Name, op.Error)
	}
	if !op.Done {
		return domain.PollResult{}, nil
	}
	mime := strings.TrimSpace(op.MIMEType)
	if mime == "" {
		mime = domain.VideoMIMEType
	}
	return domain.PollResult{
		Done:     true,
		Artifact: domain.ArtifactRef{URI: op.VideoURI, MIMEType: mime},
	}, nil
}

func (v *Veo) FetchArtifact(ctx context.Context, ref domain.ArtifactRef) ([]byte, error) {
	if ref.IsZero() {
		return nil, errors.New("artifact uri is empty")
	}
	data, _, err := v.api.Download(ctx, ref.URI)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("artifact is empty")
	}
	return data, nil
}

var _ poller.JobService = (*Veo)(nil)
