package vad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/mattn/go-shellwords"
)

// execDetector shells out to a scoring command that prints {"probability": p}.
type execDetector struct {
	cmd        []string
	sampleRate int
	channels   int
}

type execScore struct {
	Probability float64 `json:"probability"`
}

func NewExecDetector(command string, sampleRate, channels int) (Detector, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse vad command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("vad command is empty")
	}
	return &execDetector{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (d *execDetector) Score(ctx context.Context, pcm []byte) (float64, error) {
	file, err := os.CreateTemp("", "loqa_vad_*.wav")
	if err != nil {
		return 0, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, pcm, d.sampleRate, d.channels); err != nil {
		return 0, err
	}

	args := append(append([]string{}, d.cmd[1:]...), "--audio", file.Name())
	command := exec.CommandContext(ctx, d.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return 0, fmt.Errorf("vad command failed: %w: %s", err, stderr.String())
	}

	var resp execScore
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return 0, fmt.Errorf("decode vad response: %w", err)
	}
	return Clamp(resp.Probability), nil
}
