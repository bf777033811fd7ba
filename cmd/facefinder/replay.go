package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/app"
	"github.com/ayusman/facefinder/internal/capture"
)

var replayOpts struct {
	output  string
	noStore bool
}

var replayCmd = &cobra.Command{
	Use:   "replay <video>",
	Short: "Run the face finder over a video file",
	Long: `Replay feeds every frame of a video file through the face finder with
timestamps taken from the file's frame rate, so results do not depend on
processing speed. Scenes and timings are recorded as a session when a
store is configured, and the painted frames can be written to a video.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayOpts.noStore {
			cfg.Store.Path = ""
		}
		return runReplay(cmd, args[0])
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.output, "output", "o", "", "Write the painted frames to this video file (MJPG)")
	replayCmd.Flags().BoolVar(&replayOpts.noStore, "no-store", false, "Do not record a session")
}

// videoOutput writes painted JPEG frames to a video file, opening the
// writer on the first frame once the size is known.
type videoOutput struct {
	path   string
	fps    float64
	writer *gocv.VideoWriter
}

func (o *videoOutput) write(jpeg []byte) error {
	frame, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode painted frame: %w", err)
	}
	defer frame.Close()

	if o.writer == nil {
		o.writer, err = gocv.VideoWriterFile(o.path, "MJPG", o.fps, frame.Cols(), frame.Rows(), true)
		if err != nil {
			return fmt.Errorf("open output video: %w", err)
		}
	}
	return o.writer.Write(frame)
}

func (o *videoOutput) Close() error {
	if o.writer == nil {
		return nil
	}
	return o.writer.Close()
}

func runReplay(cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	models, err := loadModels(cfg)
	if err != nil {
		return err
	}
	defer models.Close()

	settings := cfg.FinderSettings()
	sk, err := openSinks("replay:"+path, &settings)
	if err != nil {
		return err
	}
	defer sk.close()

	source := capture.NewVideoFile(path)
	if err := source.Open(); err != nil {
		return err
	}

	a, err := app.New(app.Config{
		Logger: logger,
		Source: source,
		Models: models.Models,
		Finder: settings,
	})
	if err != nil {
		source.Close()
		return err
	}
	defer a.Close()
	sk.attach(a.Finder())

	fps := float64(source.FPS())
	if fps <= 0 {
		fps = cfg.Camera.FPS
	}
	frameDur := time.Duration(float64(time.Second) / fps)

	var out *videoOutput
	if replayOpts.output != "" {
		out = &videoOutput{path: replayOpts.output, fps: fps}
		defer out.Close()
	}

	bar := progressbar.NewOptions(source.FrameCount(),
		progressbar.OptionSetDescription("Replaying "+path),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	var faceFrames int
	start := time.Now()
	ctx := cmd.Context()
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			logger.Info("replay interrupted", "frames", i)
			break
		}

		frame, err := source.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", i, err)
		}

		jpeg, err := a.ProcessFrame(frame, start.Add(time.Duration(i)*frameDur))
		frame.Close()
		if err != nil {
			logger.Warn("frame failed", "frame", i, "error", err)
			continue
		}
		if !a.LastScene().Empty() {
			faceFrames++
		}
		if out != nil {
			if err := out.write(jpeg); err != nil {
				return err
			}
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Fprintf(cmd.OutOrStdout(), "\nframes: %d, with faces: %d, elapsed: %v\ntiming: %s\n",
		a.Frames(), faceFrames, time.Since(start).Round(time.Millisecond), a.Finder().Timer())
	return nil
}
