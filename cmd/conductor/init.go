package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// starterConfig is written by `conductor init`. Tokens are referenced via
// environment variables so the file can be committed.
const starterConfig = `# Conductor configuration.
state_dir: state

tracker:
  owner: your-org
  token: ${CONDUCTOR_TRACKER_TOKEN}

repositories:
  - id: example
    repo: example-repo
    team_keys: [EX]
    labels: [conductor]
    projects: []
    workspace_root: /srv/workspaces/example
    allowed_tools: [Bash, Edit, Write]
    reply_in_thread: true

agent:
  binary: claude
  timeout_min: 30

ingress:
  port: 8484

db:
  driver: sqlite
  path: conductor.db
`

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Long:  "Writes a starter conductor.yaml and prompts for the tracker API token, which is stored in the environment file next to the config, never in the config itself.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "conductor.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			return runInit(cmd, path, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, path string, force bool) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)

	token, err := promptToken(cmd)
	if err != nil {
		return err
	}
	if token == "" {
		fmt.Fprintf(out, "No token entered; set CONDUCTOR_TRACKER_TOKEN before running `conductor serve`.\n")
		return nil
	}

	envPath := path + ".env"
	line := "CONDUCTOR_TRACKER_TOKEN=" + token + "\n"
	if err := os.WriteFile(envPath, []byte(line), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}
	fmt.Fprintf(out, "Wrote %s (mode 0600). Source it before starting the daemon.\n", envPath)
	return nil
}

// promptToken reads the tracker token without echoing it. Falls back to a
// plain line read when stdin is not a terminal (piped input in scripts).
func promptToken(cmd *cobra.Command) (string, error) {
	out := cmd.OutOrStdout()
	fd := int(os.Stdin.Fd())

	fmt.Fprintf(out, "Tracker API token (enter to skip): ")
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", nil
	}
	return strings.TrimSpace(line), nil
}
