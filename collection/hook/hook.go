// Package hook runs the user's program when new scores show up. The
// program gets a JSON payload file and argv built from a template.
package hook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	EventScoreUpdate = "score_update"
	EventForcePush   = "force_push"

	DefaultCooldown = 10 * time.Minute
	forceKey        = "force"
)

var (
	ErrDisabled  = errors.New("score hook is disabled")
	ErrNoProgram = errors.New("score hook has no program")
	ErrCooldown  = errors.New("score hook is cooling down")
	ErrDuplicate = errors.New("the same scores were pushed recently")
)

type Score struct {
	Name   string  `json:"name"`
	Score  string  `json:"score"`
	Term   string  `json:"term,omitempty"`
	Credit float64 `json:"credit,omitempty"`
}

type Account struct {
	Nickname string `json:"nickname"`
}

type Payload struct {
	Event     string   `json:"event"`
	Timestamp string   `json:"timestamp"`
	Account   Account  `json:"account"`
	NewNames  []string `json:"new_names"`
	NewScores []Score  `json:"new_scores"`
	AllScores []Score  `json:"all_scores,omitempty"`
}

// Fingerprint identifies a diff push. Name order does not matter.
func Fingerprint(event, nickname string, newNames []string) string {
	names := append([]string(nil), newNames...)
	sort.Strings(names)
	raw, _ := json.Marshal(struct {
		Event    string   `json:"event"`
		Nickname string   `json:"nickname"`
		NewNames []string `json:"new_names"`
	}{event, nickname, names})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

type Config struct {
	Enabled     bool
	Program     string
	Args        []string
	Cooldown    time.Duration
	KeepPayload bool
	IncludeAll  bool
	// payload files go here
	Dir string
}

// Outcome is what one run of the program produced.
type Outcome struct {
	PayloadPath string
	ExitCode    int
	Stdout      string
	Stderr      string
}

type Runner struct {
	cfg    Config
	recent *cache.Cache
	logger *log.Entry
	now    func() time.Time
}

func New(cfg Config, logger *log.Entry) *Runner {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = log.WithField("component", "hook")
	}
	return &Runner{
		cfg:    cfg,
		recent: cache.New(cfg.Cooldown, 2*cfg.Cooldown),
		logger: logger,
		now:    time.Now,
	}
}

func (r *Runner) Config() Config { return r.cfg }

// Push runs the program for new scores. A forced push ignores the diff but
// respects one global cool-down; a diff push is dropped when the same diff
// was pushed within the cool-down.
func (r *Runner) Push(ctx context.Context, nickname string, newScores, allScores []Score, force bool) (Outcome, error) {
	if !r.cfg.Enabled && !force {
		return Outcome{}, ErrDisabled
	}
	if r.cfg.Program == "" {
		return Outcome{}, ErrNoProgram
	}

	event := EventScoreUpdate
	if force {
		event = EventForcePush
	}
	names := make([]string, len(newScores))
	for i, s := range newScores {
		names[i] = s.Name
	}

	key := forceKey
	if !force {
		key = Fingerprint(event, nickname, names)
	}
	if _, seen := r.recent.Get(key); seen {
		if force {
			return Outcome{}, ErrCooldown
		}
		return Outcome{}, ErrDuplicate
	}
	r.recent.SetDefault(key, r.now())

	payload := Payload{
		Event:     event,
		Timestamp: r.now().Format(time.RFC3339),
		Account:   Account{Nickname: nickname},
		NewNames:  names,
		NewScores: newScores,
	}
	if payload.NewScores == nil {
		payload.NewScores = []Score{}
	}
	if r.cfg.IncludeAll {
		payload.AllScores = allScores
	}
	return r.run(ctx, payload)
}

func (r *Runner) run(ctx context.Context, payload Payload) (Outcome, error) {
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return Outcome{}, err
	}
	path := filepath.Join(r.cfg.Dir, "score_hook_"+uuid.NewString()+".json")
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Outcome{}, err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return Outcome{}, err
	}
	if !r.cfg.KeepPayload {
		defer os.Remove(path)
	}

	vars := map[string]string{
		"payload":   path,
		"event":     payload.Event,
		"timestamp": payload.Timestamp,
		"nickname":  payload.Account.Nickname,
		"new_count": strconv.Itoa(len(payload.NewNames)),
	}
	args := Expand(r.cfg.Args, vars)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.Program, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	logger := r.logger.WithFields(log.Fields{"program": r.cfg.Program, "event": payload.Event})
	logger.WithField("args", args).Info("running score hook")

	err = cmd.Run()
	out := Outcome{PayloadPath: path, Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if out.Stdout != "" {
		logger.WithField("stream", "stdout").Info(strings.TrimSpace(out.Stdout))
	}
	if out.Stderr != "" {
		logger.WithField("stream", "stderr").Warn(strings.TrimSpace(out.Stderr))
	}
	if err != nil {
		return out, fmt.Errorf("score hook: %w", err)
	}
	return out, nil
}

var placeholder = regexp.MustCompile(`\$\{(\w+)\}`)

// Expand substitutes ${name} in every argument. Unknown names are left as
// they are.
func Expand(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = placeholder.ReplaceAllStringFunc(a, func(m string) string {
			if v, ok := vars[m[2:len(m)-1]]; ok {
				return v
			}
			return m
		})
	}
	return out
}
