package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ClaudeSpawner implements Spawner by launching claude CLI subprocesses in
// stream-json mode. Each line of stdout is one JSON envelope; envelopes map
// onto the lifecycle Message kinds.
type ClaudeSpawner struct {
	Binary       string        // path to the agent binary; defaults to "claude"
	SystemPrompt string        // appended via --append-system-prompt
	Timeout      time.Duration // hard cap on one run; 0 disables
}

// streamEnvelope is the subset of the stream-json wire format Conductor
// reacts to. Anything else is tool-call noise and is ignored.
type streamEnvelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	Message   struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// Spawn starts a worker subprocess. If opts.Prompt is non-empty it is
// passed via -p; otherwise stdin is piped and the caller feeds input with
// Send. The process group is killed on cancel so shell children die too.
func (s *ClaudeSpawner) Spawn(ctx context.Context, opts SpawnOpts) (Process, error) {
	binary := s.Binary
	if binary == "" {
		binary = "claude"
	}

	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if s.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", s.SystemPrompt)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.ResumeID != "" {
		args = append(args, "--resume", opts.ResumeID)
	}
	if opts.Prompt != "" {
		args = append(args, "-p", opts.Prompt)
	}

	// The process owns its cancel: Close() releases both the hard-cap timer
	// and the subprocess context.
	cancel := func() {}
	if s.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, s.Timeout)
		cancel = tcancel
	}
	ctx, ccancel := context.WithCancel(ctx)
	cancel = chainCancel(ccancel, cancel)

	cmd := exec.CommandContext(ctx, binary, args...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	// Use a process group so SIGTERM kills the entire tree (shell + children).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}

	// Stdin stays open for the whole run: follow-up thread messages are
	// delivered as user envelopes while the worker runs.
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent: start %s: %w", binary, err)
	}

	msgCh := make(chan Message, 64)
	doneCh := make(chan struct{})

	proc := &claudeProcess{
		cmd:       cmd,
		cancel:    cancel,
		stdinPipe: stdinPipe,
		msgCh:     msgCh,
		doneCh:    doneCh,
	}

	// Parse stdout lines into lifecycle messages, then wait for exit.
	go func() {
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024) // 1MB lines
		for scanner.Scan() {
			if msg, ok := parseLine(scanner.Bytes()); ok {
				msgCh <- msg
			}
		}
		close(msgCh)
		cmd.Wait()
		close(doneCh)
	}()

	return proc, nil
}

// chainCancel returns a CancelFunc that runs first, then second.
func chainCancel(first, second context.CancelFunc) context.CancelFunc {
	return func() {
		first()
		second()
	}
}

// parseLine maps one stream-json line to a lifecycle Message. Returns
// ok=false for envelopes the orchestrator does not react to.
func parseLine(line []byte) (Message, bool) {
	var env streamEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		// Non-JSON noise on stdout; not a protocol error.
		return Message{}, false
	}

	switch env.Type {
	case "system":
		if env.Subtype == "init" && env.SessionID != "" {
			return Message{Kind: MessageStarted, SessionID: env.SessionID}, true
		}
		return Message{}, false
	case "assistant":
		var b strings.Builder
		for _, c := range env.Message.Content {
			if c.Type == "text" && c.Text != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(c.Text)
			}
		}
		if b.Len() == 0 {
			return Message{}, false
		}
		return Message{Kind: MessageProgress, Content: b.String()}, true
	case "control":
		if env.Subtype == "awaiting_input" {
			return Message{Kind: MessageBlocked}, true
		}
		return Message{}, false
	case "result":
		if env.IsError {
			return Message{Kind: MessageFailed, Err: env.Result}, true
		}
		return Message{Kind: MessageCompleted, Result: env.Result}, true
	case "user", "tool_use", "tool_result":
		return Message{}, false
	default:
		log.Printf("agent: unknown stream message type %q (dropped)", env.Type)
		return Message{}, false
	}
}

// claudeProcess implements Process for a running claude subprocess.
type claudeProcess struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stdinPipe io.WriteCloser

	mu     sync.Mutex
	closed bool
	msgCh  chan Message
	doneCh chan struct{}
}

// userEnvelope is the stream-json input format for follow-up messages.
type userEnvelope struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// encodeUserMessage builds the stream-json line for one user message.
func encodeUserMessage(msg string) ([]byte, error) {
	var env userEnvelope
	env.Type = "user"
	env.Message.Role = "user"
	env.Message.Content = append(env.Message.Content, struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "text", Text: msg})
	return json.Marshal(env)
}

// Send delivers a user message to the worker over stdin.
func (p *claudeProcess) Send(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("agent: process closed")
	}
	line, err := encodeUserMessage(msg)
	if err != nil {
		return fmt.Errorf("agent: encode message: %w", err)
	}
	if _, err := p.stdinPipe.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("agent: write stdin: %w", err)
	}
	return nil
}

// Messages returns the lifecycle message stream.
func (p *claudeProcess) Messages() <-chan Message {
	return p.msgCh
}

// Done returns a channel that closes when the process exits.
func (p *claudeProcess) Done() <-chan struct{} {
	return p.doneCh
}

// Close terminates the subprocess via context cancellation (SIGTERM to the
// process group).
func (p *claudeProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.stdinPipe != nil {
		p.stdinPipe.Close()
	}
	p.cancel()
	return nil
}
