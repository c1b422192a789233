package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// screencastRecorder writes CDP screencast frames as numbered JPEG files
type screencastRecorder struct {
	dir     string
	frames  atomic.Int64
	stopped atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	logger  arbor.ILogger
}

func startScreencast(tabCtx context.Context, dir string, logger arbor.ILogger) (*screencastRecorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir: %w", err)
	}

	listenCtx, cancel := context.WithCancel(tabCtx)
	rec := &screencastRecorder{dir: dir, cancel: cancel, logger: logger}

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok || rec.stopped.Load() {
			return
		}
		rec.wg.Add(1)
		go func() {
			defer rec.wg.Done()
			rec.writeFrame(frame)

			c := chromedp.FromContext(tabCtx)
			if c == nil || c.Target == nil {
				return
			}
			if err := page.ScreencastFrameAck(frame.SessionID).Do(cdp.WithExecutor(tabCtx, c.Target)); err != nil {
				logger.Debug().Err(err).Msg("Screencast frame ack failed")
			}
		}()
	})

	err := chromedp.Run(tabCtx, page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(60).
		WithEveryNthFrame(2))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start screencast: %w", err)
	}

	logger.Debug().Str("dir", dir).Msg("Screen recording started")
	return rec, nil
}

func (r *screencastRecorder) writeFrame(frame *page.EventScreencastFrame) {
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Invalid screencast frame")
		return
	}
	n := r.frames.Add(1)
	path := filepath.Join(r.dir, fmt.Sprintf("frame_%05d.jpg", n))
	if err := os.WriteFile(path, data, 0644); err != nil {
		r.logger.Debug().Err(err).Str("path", path).Msg("Failed to write screencast frame")
	}
}

func (r *screencastRecorder) stop(tabCtx context.Context) (string, error) {
	r.stopped.Store(true)
	err := chromedp.Run(tabCtx, page.StopScreencast())
	r.cancel()
	r.wg.Wait()

	r.logger.Debug().
		Str("dir", r.dir).
		Int64("frames", r.frames.Load()).
		Msg("Screen recording stopped")

	if err != nil {
		return r.dir, fmt.Errorf("failed to stop screencast: %w", err)
	}
	return r.dir, nil
}
