// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package egress decides whether patient data may leave the process for a
// given generation provider, and strips patient identifiers from what does.
package egress

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

// Sentinel errors for refused requests. Each wraps llm.ErrPolicyBlocked so
// the resilience layer neither retries them nor counts them against the
// circuit breaker.
var (
	ErrLocalOnly      = fmt.Errorf("egress: local-only mode blocks cloud providers: %w", llm.ErrPolicyBlocked)
	ErrProviderDenied = fmt.Errorf("egress: provider denied by policy: %w", llm.ErrPolicyBlocked)
	ErrNoConsent      = fmt.Errorf("egress: no consent for provider: %w", llm.ErrPolicyBlocked)
)

// Config is the egress policy.
type Config struct {
	// LocalOnly blocks every provider that runs outside this machine.
	// Env: TRIAGE_LOCAL_ONLY
	LocalOnly bool `yaml:"local_only"`

	// Allow, when non-empty, lists the only cloud providers permitted.
	// Env: TRIAGE_EGRESS_ALLOWLIST (comma-separated)
	Allow []string `yaml:"allow"`

	// Deny lists cloud providers that are never permitted. Deny wins.
	// Env: TRIAGE_EGRESS_DENYLIST (comma-separated)
	Deny []string `yaml:"deny"`

	// Consent records operator consent per cloud provider.
	// Env: TRIAGE_CONSENT_<PROVIDER>
	Consent map[string]bool `yaml:"consent"`

	// RedactIdentifiers strips CPF, CNS, e-mail and phone numbers from
	// prompts sent to cloud providers.
	RedactIdentifiers bool `yaml:"redact_identifiers"`
}

// DefaultConfig allows cloud providers only with consent and redacts
// identifiers.
func DefaultConfig() Config {
	return Config{RedactIdentifiers: true}
}

// IsLocal reports whether a provider keeps data on this machine.
func IsLocal(provider string) bool {
	switch provider {
	case llm.ProviderOllama, llm.ProviderMock:
		return true
	}
	return false
}

// Policy evaluates Config for one provider.
//
// Thread Safety: Immutable after NewPolicy; safe for concurrent use.
type Policy struct {
	localOnly bool
	allow     map[string]bool
	deny      map[string]bool
	consent   map[string]bool
}

// NewPolicy builds a Policy from cfg. Provider names are matched
// case-insensitively.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{
		localOnly: cfg.LocalOnly,
		allow:     toSet(cfg.Allow),
		deny:      toSet(cfg.Deny),
		consent:   make(map[string]bool, len(cfg.Consent)),
	}
	for k, v := range cfg.Consent {
		p.consent[strings.ToLower(k)] = v
	}
	return p
}

// Check returns nil when provider may receive patient data, otherwise a
// wrapped sentinel and the name of the check that refused it.
//
// Check order: local providers pass, then local-only mode, deny list, allow
// list, consent.
func (p *Policy) Check(provider string) (string, error) {
	provider = strings.ToLower(provider)
	if IsLocal(provider) {
		return "", nil
	}
	if p.localOnly {
		return "local_only", fmt.Errorf("provider %q: %w (set TRIAGE_LOCAL_ONLY=false to allow)", provider, ErrLocalOnly)
	}
	if p.deny[provider] {
		return "policy", fmt.Errorf("provider %q is in the deny list: %w", provider, ErrProviderDenied)
	}
	if len(p.allow) > 0 && !p.allow[provider] {
		return "policy", fmt.Errorf("provider %q is not in the allow list: %w", provider, ErrProviderDenied)
	}
	if !p.consent[provider] {
		return "consent", fmt.Errorf("provider %q requires consent, set TRIAGE_CONSENT_%s=true: %w",
			provider, strings.ToUpper(provider), ErrNoConsent)
	}
	return "", nil
}

// IsBlocked reports whether err is a policy refusal.
func IsBlocked(err error) bool {
	return errors.Is(err, llm.ErrPolicyBlocked)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.ToLower(strings.TrimSpace(it)); it != "" {
			out[it] = true
		}
	}
	return out
}
