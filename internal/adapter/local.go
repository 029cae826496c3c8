package adapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/postforge/autopost/internal/models"
)

// LocalAdapter is the in-process adapter used when no remote endpoint is
// configured for a platform. It applies the structural validation every
// adapter owes the contract, then acknowledges with a synthetic platform
// post id.
type LocalAdapter struct {
	Platform string
}

func NewLocal(platformID string) *LocalAdapter {
	return &LocalAdapter{Platform: platformID}
}

func (l *LocalAdapter) Dispatch(ctx context.Context, req Request) (Result, error) {
	if req.Platform != l.Platform {
		return Result{
			OK:           false,
			ErrorCode:    models.CodePlatformMismatch,
			ErrorMessage: fmt.Sprintf("adapter %s received request for platform %s", l.Platform, req.Platform),
		}, nil
	}
	if len(req.TimeSlots) == 0 {
		return Result{
			OK:           false,
			ErrorCode:    models.CodeInvalidTimeSlots,
			ErrorMessage: "at least one time slot is required",
		}, nil
	}
	if req.PostsPerDay <= 0 {
		return Result{
			OK:           false,
			ErrorCode:    models.CodeInvalidPostsPerDay,
			ErrorMessage: "postsPerDay must be positive",
		}, nil
	}
	return Result{
		OK:             true,
		PlatformPostID: fmt.Sprintf("%s-%s", l.Platform, uuid.New().String()),
	}, nil
}
