// Package doctor runs runtime readiness diagnostics for the dictation daemon.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/transcribe"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkEnv("XDG_SESSION_TYPE", func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), "wayland")
	}, "session type is wayland", "expected XDG_SESSION_TYPE=wayland"))

	checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))

	checks = append(checks, checkDataDir(cfg.Config))

	if len(cfg.Config.Clipboard.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Clipboard.Argv, "clipboard_cmd"))
	} else {
		checks = append(checks, checkSystemClipboard())
	}

	if cfg.Config.Paste.Enable {
		if len(cfg.Config.PasteCmd.Argv) > 0 {
			checks = append(checks, checkCommand(cfg.Config.PasteCmd.Argv, "paste_cmd"))
		} else {
			checks = append(checks, checkBinary("hyprctl", "default paste path requires hyprctl"))
		}
	}

	if cfg.Config.AIEditor.Enable {
		checks = append(checks, checkAPIKey(cfg.Config.AIEditor))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkTranscriber(ctx, cfg.Config))
	if strings.TrimSpace(cfg.Config.Transcriber.GRPCHealth) != "" {
		checks = append(checks, checkGRPCHealth(ctx, cfg.Config))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkSystemClipboard() Check {
	if clipboard.Unsupported {
		return Check{Name: "clipboard", Pass: false, Message: "no clipboard utility found (install wl-clipboard or set clipboard_cmd)"}
	}
	return Check{Name: "clipboard", Pass: true, Message: "system clipboard available"}
}

// checkDataDir verifies the queue and history location is writable.
func checkDataDir(cfg config.Config) Check {
	paths, err := cfg.ResolvePaths()
	if err != nil {
		return Check{Name: "data_dir", Pass: false, Message: err.Error()}
	}
	if err := os.MkdirAll(paths.QueueDir, 0o700); err != nil {
		return Check{Name: "data_dir", Pass: false, Message: fmt.Sprintf("create %s: %v", paths.QueueDir, err)}
	}
	probe, err := os.CreateTemp(paths.QueueDir, ".doctor-*")
	if err != nil {
		return Check{Name: "data_dir", Pass: false, Message: fmt.Sprintf("write %s: %v", paths.QueueDir, err)}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return Check{Name: "data_dir", Pass: true, Message: fmt.Sprintf("writable at %s", paths.DataDir)}
}

func checkAPIKey(cfg config.AIEditorConfig) Check {
	if strings.TrimSpace(cfg.BaseURL) != "" {
		return Check{Name: "ai_editor", Pass: true, Message: fmt.Sprintf("using %s", cfg.BaseURL)}
	}
	if strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)) == "" {
		return Check{Name: "ai_editor", Pass: false, Message: fmt.Sprintf("%s is not set", cfg.APIKeyEnv)}
	}
	return Check{Name: "ai_editor", Pass: true, Message: fmt.Sprintf("%s is set", cfg.APIKeyEnv)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkTranscriber probes the inference server over HTTP.
func checkTranscriber(ctx context.Context, cfg config.Config) Check {
	client := transcribe.New(cfg.Transcriber, nil)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return Check{Name: "transcriber", Pass: false, Message: err.Error()}
	}
	return Check{Name: "transcriber", Pass: true, Message: fmt.Sprintf("reachable at %s", client.Endpoint())}
}

// checkGRPCHealth queries the configured gRPC health endpoint once.
func checkGRPCHealth(ctx context.Context, cfg config.Config) Check {
	addr := strings.TrimSpace(cfg.Transcriber.GRPCHealth)
	status, err := transcribe.CheckHealth(ctx, addr, "", 2*time.Second)
	if err != nil {
		return Check{Name: "transcriber.health", Pass: false, Message: err.Error()}
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return Check{Name: "transcriber.health", Pass: false, Message: fmt.Sprintf("%s reports %s", addr, status)}
	}
	return Check{Name: "transcriber.health", Pass: true, Message: fmt.Sprintf("%s is serving", addr)}
}
