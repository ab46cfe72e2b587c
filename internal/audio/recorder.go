package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RecorderConfig selects the capture device and debug behavior.
type RecorderConfig struct {
	Input      string
	Fallback   string
	SampleRate int
	// DebugDir receives a WAV copy of every capture when non-empty.
	DebugDir string
}

// Recorder owns one capture at a time and hands back WAV audio on Stop.
type Recorder struct {
	cfg    RecorderConfig
	logger *slog.Logger

	mu      sync.Mutex
	capture *Capture
}

// NewRecorder constructs a recorder from runtime config.
func NewRecorder(cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Recorder{cfg: cfg, logger: logger}
}

// Start resolves the input device and begins capturing.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		return fmt.Errorf("recorder already started")
	}

	selection, err := SelectDevice(ctx, r.cfg.Input, r.cfg.Fallback)
	if err != nil {
		return err
	}
	if selection.Warning != "" && r.logger != nil {
		r.logger.Warn(selection.Warning)
	}

	// The capture must outlive the request that started it.
	capture, err := StartCapture(context.WithoutCancel(ctx), selection.Device, r.cfg.SampleRate)
	if err != nil {
		return err
	}
	r.capture = capture

	if r.logger != nil {
		r.logger.Info("capture started", "device", DescribeDevice(selection.Device), "sample_rate", r.cfg.SampleRate)
	}
	return nil
}

// Stop ends the capture and returns it as WAV bytes. No captured samples
// yields nil audio and no error.
func (r *Recorder) Stop(_ context.Context) ([]byte, error) {
	r.mu.Lock()
	capture := r.capture
	r.capture = nil
	r.mu.Unlock()

	if capture == nil {
		return nil, fmt.Errorf("recorder not started")
	}
	_ = capture.Stop()

	pcm := capture.RawPCM()
	if r.logger != nil {
		r.logger.Info("capture stopped", "device", DescribeDevice(capture.Device()), "bytes", len(pcm))
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	wavData, err := EncodeWAV(pcm, capture.SampleRate(), 1)
	if err != nil {
		return nil, err
	}
	r.writeDebugAudio(wavData)
	return wavData, nil
}

// DescribeDevice formats device metadata for logs.
func DescribeDevice(device Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

// writeDebugAudio stores a timestamped copy of the capture when enabled.
func (r *Recorder) writeDebugAudio(wavData []byte) {
	if strings.TrimSpace(r.cfg.DebugDir) == "" || len(wavData) == 0 {
		return
	}
	if err := os.MkdirAll(r.cfg.DebugDir, 0o700); err != nil {
		r.logWarn("unable to create debug dir", err)
		return
	}

	name := fmt.Sprintf("audio-%s.wav", time.Now().Format("20060102-150405.000"))
	if err := os.WriteFile(filepath.Join(r.cfg.DebugDir, name), wavData, 0o600); err != nil {
		r.logWarn("unable to write debug audio dump", err)
	}
}

func (r *Recorder) logWarn(message string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, "error", err.Error())
}
