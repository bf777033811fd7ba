package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/vision"
)

// DefaultIdleTimeout stops an idle landmark service.
const DefaultIdleTimeout = 30 * time.Second

const serviceScript = "landmark_service.py"

// ProcessRegressor fits landmarks by sending aligned face crops to an
// external landmark service. Each request is a 4-byte big-endian length
// followed by a JPEG crop; each response is one line of JSON holding 106
// points in crop pixels. The service is started lazily and stopped after
// IdleTimeout without requests.
type ProcessRegressor struct {
	command     []string
	cropSize    int
	IdleTimeout time.Duration

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	closed    bool
	idleTimer *time.Timer
}

// NewProcessRegressor creates a regressor running command. With no command
// the service script is looked up next to the executable and run with the
// virtual environment's interpreter when one exists.
func NewProcessRegressor(command ...string) (*ProcessRegressor, error) {
	if len(command) == 0 {
		script := findServiceScript()
		if script == "" {
			return nil, fmt.Errorf("%s not found", serviceScript)
		}
		python := findVenvPython()
		if python == "" {
			python = "python3"
		}
		command = []string{python, script}
	}
	return &ProcessRegressor{
		command:     command,
		cropSize:    landmarkInputSize,
		IdleTimeout: DefaultIdleTimeout,
	}, nil
}

type serviceResponse struct {
	Points []struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"points"`
	Error string `json:"error,omitempty"`
}

// Regress implements the shape regressor contract.
func (d *ProcessRegressor) Regress(img image.Image, roi vision.Rect) (*vision.Shape, error) {
	if roi.Empty() {
		return nil, fmt.Errorf("empty roi")
	}
	crop := newAlignedCrop(roi, d.cropSize)

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer src.Close()
	aligned := warpCrop(src, crop)
	defer aligned.Close()

	buf, err := gocv.IMEncode(".jpg", aligned)
	if err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	resp, err := d.roundTrip(buf.GetBytes())
	if err != nil {
		// A broken pipe leaves the service unusable; restart on next call.
		d.shutdown()
		return nil, err
	}
	d.resetIdleTimer()

	if resp.Error != "" {
		return nil, fmt.Errorf("landmark service: %s", resp.Error)
	}
	if len(resp.Points) == 0 {
		return nil, nil
	}
	points := make([]vision.Point, len(resp.Points))
	for i, p := range resp.Points {
		points[i] = crop.toFrame(vision.Point{X: p.X, Y: p.Y})
	}
	return shapeFromPoints(points)
}

func (d *ProcessRegressor) roundTrip(data []byte) (*serviceResponse, error) {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp serviceResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &resp, nil
}

// Close shuts down the service.
func (d *ProcessRegressor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.shutdown()
}

func (d *ProcessRegressor) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.command[0], d.command[1:]...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start landmark service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	return nil
}

func (d *ProcessRegressor) shutdown() error {
	if !d.started {
		return nil
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The service exits non-zero when its input closes mid-frame.
		err = nil
	}
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
	return err
}

func (d *ProcessRegressor) resetIdleTimer() {
	if d.IdleTimeout <= 0 {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	return firstExisting(
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".facefinder", "scripts", serviceScript),
	)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	return firstExisting(
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".facefinder/venv/bin/python"),
	)
}

func firstExisting(candidates ...string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
