package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// waitFrames gives every frame of the page a bounded chance to reach
// DOMContentLoaded. Failures are recorded in the returned results and never
// fail the run.
func waitFrames(ctx context.Context, page schemas.Page, timeout time.Duration, logger *zap.Logger) []schemas.FrameLoadResult {
	frames, err := page.Frames(ctx)
	if err != nil {
		logger.Warn("Could not enumerate frames.", zap.Error(err))
		return nil
	}

	results := make([]schemas.FrameLoadResult, 0, len(frames))
	for _, f := range frames {
		if ctx.Err() != nil {
			break
		}
		results = append(results, waitFrame(ctx, f, timeout, logger))
	}
	return results
}

func waitFrame(ctx context.Context, f schemas.Frame, timeout time.Duration, logger *zap.Logger) schemas.FrameLoadResult {
	res := schemas.FrameLoadResult{FrameID: f.ID(), URL: f.URL(), Main: f.IsMain()}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := f.WaitForLoadState(fctx, schemas.WaitDOMContentLoaded)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		logger.Debug("Frame did not finish loading; continuing.",
			zap.String("frame", res.FrameID), zap.String("url", res.URL), zap.Error(err))
		return res
	}
	res.Loaded = true
	return res
}
