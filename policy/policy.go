// Package policy turns a requested grounding mode and a model's capability
// tier into a concrete tool policy.
package policy

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/contestra/ai-ranker-sub001/capability"
	"github.com/contestra/ai-ranker-sub001/provider"
)

// Mode is the grounding mode requested by the caller.
type Mode string

const (
	ModeOff       Mode = "OFF"
	ModePreferred Mode = "PREFERRED"
	ModeRequired  Mode = "REQUIRED"
)

// ParseMode parses a mode name case-insensitively. "UNGROUNDED" and
// "GROUNDED" are accepted as aliases for OFF and REQUIRED.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF", "UNGROUNDED", "NONE":
		return ModeOff, nil
	case "PREFERRED", "AUTO":
		return ModePreferred, nil
	case "REQUIRED", "GROUNDED":
		return ModeRequired, nil
	}
	return "", fmt.Errorf("unknown grounding mode %q", s)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOff || m == ModePreferred || m == ModeRequired
}

// Enforcement is how strictly tool use is verified.
type Enforcement string

const (
	EnforcementNone Enforcement = "none"
	EnforcementSoft Enforcement = "soft"
	EnforcementHard Enforcement = "hard"
)

// Decision is the resolved tool policy for one run.
type Decision struct {
	Mode        Mode
	Tools       []provider.ToolDef
	ToolChoice  provider.ToolChoice
	Enforcement Enforcement
	Tier        capability.Tier

	// Provoker is appended to the prompt on the soft-required path only.
	Provoker string
	// ProvokerHash identifies Provoker in telemetry.
	ProvokerHash string
}

// SoftRequired reports whether the run relies on a textual nudge.
func (d Decision) SoftRequired() bool {
	return d.Enforcement == EnforcementSoft
}

// Resolver builds decisions. The zero value is usable.
type Resolver struct {
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
	// MaxToolUses is forwarded to transports that can cap search calls.
	MaxToolUses int
}

// Resolve maps mode and tier to a Decision. Enforcement depends only on the
// tier, never on anything observed at run time. A non-empty override
// replaces the daily provoker.
func (r Resolver) Resolve(mode Mode, tier capability.Tier, override string) (Decision, error) {
	d := Decision{Mode: mode, Tier: tier}

	switch mode {
	case ModeOff:
		d.ToolChoice = provider.ToolChoiceNone
		d.Enforcement = EnforcementNone
		return d, nil
	case ModePreferred:
		d.Tools = r.tools()
		d.ToolChoice = provider.ToolChoiceAuto
		d.Enforcement = EnforcementNone
		return d, nil
	case ModeRequired:
		d.Tools = r.tools()
		if tier == capability.TierHard {
			d.ToolChoice = provider.ToolChoiceForced
			d.Enforcement = EnforcementHard
			return d, nil
		}
		d.ToolChoice = provider.ToolChoiceAuto
		d.Enforcement = EnforcementSoft
		d.Provoker = override
		if strings.TrimSpace(d.Provoker) == "" {
			d.Provoker = DailyProvoker(r.now())
		}
		d.ProvokerHash = Hash(d.Provoker)
		return d, nil
	}
	return Decision{}, fmt.Errorf("unknown grounding mode %q", mode)
}

func (r Resolver) tools() []provider.ToolDef {
	return []provider.ToolDef{{
		Kind:    provider.ToolKindWebSearch,
		Name:    "web_search",
		MaxUses: r.MaxToolUses,
	}}
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

var provokers = []string{
	"As of today (%s), please include an official source URL that confirms this.",
	"Please check a current source dated %s or later and cite its URL.",
	"Use an up-to-date reference (as of %s) and include the link you relied on.",
}

// DailyProvoker returns the provoker line for t's UTC date. The same date
// always yields the same text.
func DailyProvoker(t time.Time) string {
	date := t.UTC().Format(time.DateOnly)
	sum := sha256.Sum256([]byte(date))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(provokers))
	return fmt.Sprintf(provokers[idx], date)
}

// Hash returns the first 16 hex characters of the SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
