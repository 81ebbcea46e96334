// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classifier implements the pure function spec §4 calls the
// "Classifier": given content, an event subtype, and the candidate
// policy set, it returns the matched policies, the data types
// detected (with redacted/truncated samples), the resulting severity,
// and the suggested enforcement action. It has no side effects and
// performs no I/O, matching the reference policy engine's own
// ClassifyData/ScanFileContent split (services/policy_engine/engine.go)
// generalized from a single classification label into the DLP policy
// model this repository uses.
package classifier

import (
	"sort"
	"strings"

	"github.com/cybersentinel/core/pkg/wire"
)

// Classifier holds the compiled detector-pattern bundle. It is
// stateless after construction and safe for concurrent use by every
// monitor goroutine and by the manager's re-evaluation path.
type Classifier struct {
	detectors []Detector
	byName    map[string]*Detector
}

// New builds a Classifier from the embedded detector-pattern bundle.
func New() (*Classifier, error) {
	return FromBytes(DetectorPatterns)
}

// FromBytes builds a Classifier from an arbitrary YAML detector bundle,
// primarily used by tests that want a reduced pattern set.
func FromBytes(raw []byte) (*Classifier, error) {
	pf, err := loadPatternFile(raw)
	if err != nil {
		return nil, err
	}
	c := &Classifier{detectors: pf.Detectors, byName: make(map[string]*Detector, len(pf.Detectors))}
	for i := range c.detectors {
		c.byName[c.detectors[i].Name] = &c.detectors[i]
	}
	return c, nil
}

// patternAliases maps the server's canonical detector names plus
// common aliases  onto the detector
// names this package compiles. Names not in this map are looked up
// as-is; a name with no compiled detector is dropped rather than
// erroring, per spec §7 "Classifier is total".
var patternAliases = map[string]string{
	"email_address":   "email",
	"email":           "email",
	"indian_phone":    "phone",
	"phone_number":    "phone",
	"phone":           "phone",
	"api_key_in_code": "api_key",
	"api_key":         "api_key",
	"apikey":          "api_key",
	"aws_access_key":  "aws_key",
	"aws_key":         "aws_key",
	"credit_card":     "credit_card",
	"card_number":     "credit_card",
	"ssn":             "ssn",
	"social_security": "ssn",
	"aadhaar":         "aadhaar",
	"aadhar":          "aadhaar",
	"pan":             "pan",
	"ifsc":            "ifsc",
	"password":        "password",
	"upi":             "upi",
	"upi_id":          "upi",
	"source_code":     "source_code",
	"database_connection": "database_connection",
	"db_connection":        "database_connection",
	"connection_string":    "database_connection",
	"ip_address":           "ip_address",
	"ip":                   "ip_address",
	"indian_bank_account":  "indian_bank_account",
	"bank_account":         "indian_bank_account",
	"micr":                 "micr",
	"indian_dob":           "indian_dob",
	"dob":                  "indian_dob",
	"private_key":          "private_key",
}

// resolveNames maps a policy's requested pattern names (predefined and
// custom combined) onto the detector names compiled into this
// Classifier, silently dropping names with no known mapping.
func (c *Classifier) resolveNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		canonical, ok := patternAliases[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			canonical = strings.ToLower(strings.TrimSpace(n))
		}
		if _, exists := c.byName[canonical]; !exists {
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

// redactedSubstrings lists lowercased-substring markers whose sample values
// must never be emitted verbatim (spec §4.6 redaction rule, applied
// uniformly to every detected_content summary this package builds, not
// only clipboard events).
var redactedSubstrings = []string{"password", "api_key", "secret", "token", "private_key"}

func isRedacted(detectorName string) bool {
	lower := strings.ToLower(detectorName)
	for _, marker := range redactedSubstrings {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncateSample(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		return s[:40]
	}
	return s
}

// detectorHit accumulates matches for one detector across the scanned
// content.
type detectorHit struct {
	count   int
	samples []string
}

// scan runs every requested detector's patterns against content,
// returning a per-detector tally of match counts and up to three
// truncated (and, where required, redacted) samples.
func (c *Classifier) scan(content []byte, detectorNames []string) map[string]*detectorHit {
	hits := make(map[string]*detectorHit, len(detectorNames))
	if len(content) == 0 || len(detectorNames) == 0 {
		return hits
	}
	lines := strings.Split(string(content), "\n")
	for _, name := range detectorNames {
		det, ok := c.byName[name]
		if !ok {
			continue
		}
		hit := &detectorHit{}
		for _, line := range lines {
			for _, pattern := range det.Patterns {
				matches := pattern.compiled.FindAllString(line, -1)
				for _, m := range matches {
					hit.count++
					if len(hit.samples) < 3 {
						if isRedacted(det.Name) {
							hit.samples = append(hit.samples, "[REDACTED]")
						} else {
							hit.samples = append(hit.samples, truncateSample(m))
						}
					}
				}
			}
		}
		if hit.count > 0 {
			hits[name] = hit
		}
	}
	return hits
}

// policyPatternNames extracts the predefined+custom pattern name list
// from a policy's type-specific config, returning nil for policy types
// that carry no content patterns (usb_device_monitoring).
func policyPatternNames(decoded any) (names []string, minMatch int, ok bool) {
	switch cfg := decoded.(type) {
	case wire.FileSystemConfig:
		return append(append([]string{}, cfg.Patterns.Predefined...), cfg.Patterns.Custom...), max(cfg.MinMatchCount, 1), true
	case wire.ClipboardConfig:
		return append(append([]string{}, cfg.Patterns.Predefined...), cfg.Patterns.Custom...), 1, true
	case wire.USBTransferConfig:
		if len(cfg.Patterns.Predefined) == 0 && len(cfg.Patterns.Custom) == 0 {
			return nil, 1, false
		}
		return append(append([]string{}, cfg.Patterns.Predefined...), cfg.Patterns.Custom...), 1, true
	default:
		return nil, 0, false
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// eventSubtypeMatches implements spec §4.5 step 2 / §8 testable
// property 7: a policy is evaluated against subtype S iff its
// monitoredEvents contains S, "all", "*", or is empty while other
// config (patterns/monitoredPaths) is present — the legacy
// "all events" reading spec §4.2 mandates for backward compatibility.
func eventSubtypeMatches(monitoredEvents []string, subtype string) bool {
	if len(monitoredEvents) == 0 {
		return true
	}
	for _, e := range monitoredEvents {
		if e == subtype || e == "all" || e == "*" {
			return true
		}
	}
	return false
}

// actionRank orders enforcement actions block > quarantine > alert >
// log (spec §4.9's cross-policy ordering, reused identically for
// cross-monitor ordering in §4.5).
func actionRank(a wire.Action) int {
	switch a {
	case wire.ActionBlock:
		return 4
	case wire.ActionQuarantine:
		return 3
	case wire.ActionAlert:
		return 2
	case wire.ActionLog:
		return 1
	default:
		return 0
	}
}

func severityRank(s wire.Severity) int {
	switch s {
	case wire.SeverityCritical:
		return 4
	case wire.SeverityHigh:
		return 3
	case wire.SeverityMedium:
		return 2
	case wire.SeverityLow:
		return 1
	default:
		return 0
	}
}

// Result is the Classifier's total output: the matched policies, the
// data types it found (each with redacted/truncated samples), the
// resulting severity and suggested action, and the total match count
// spec §3's Event.total_matches records.
type Result struct {
	MatchedPolicies []string
	DataTypes       []string
	Samples         map[string][]string
	Severity        wire.Severity
	Action          wire.Action
	TotalMatches    int
	// PolicyActions records each matched policy's own requested action,
	// keyed by policy_id — the manager's re-evaluation (spec §4.3 step
	// 3) stores this as policy_action_summaries alongside the agent's
	// reported action.
	PolicyActions map[string]string
}

// HasMatches reports whether any policy matched non-trivially, the
// condition spec §4.6 requires before a clipboard event is emitted.
func (r Result) HasMatches() bool {
	return len(r.MatchedPolicies) > 0 && len(r.DataTypes) > 0
}

// Classify is the pure function spec §4 describes: it takes content, the
// observed event's family and subtype, and the candidate policy set,
// and returns a total classification result with no side effects
// . policies should already be filtered
// to the agent's currently-installed (or the manager's current) set;
// Classify itself applies the subtype and config-level filtering spec
// §4.5 steps 1-2 describe, so it is safe to pass the full policy set
// for the event's type.
func (c *Classifier) Classify(content []byte, eventType wire.EventType, subtype string, policies []wire.Policy) Result {
	applicable := typesForEventType(eventType)

	type matched struct {
		policy   wire.Policy
		dataType map[string]*detectorHit
	}
	var candidates []matched

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if !containsType(applicable, p.Type) {
			continue
		}
		decoded, err := wire.DecodeConfig(p.Type, p.Config)
		if err != nil {
			continue // invalid config: excluded, never a Classify-level failure
		}
		names, minMatch, hasPatterns := policyPatternNames(decoded)
		if !hasPatterns {
			continue
		}
		monitoredEvents := monitoredEventsOf(decoded)
		if !eventSubtypeMatches(monitoredEvents, subtype) {
			continue
		}
		resolved := c.resolveNames(names)
		hits := c.scan(content, resolved)
		total := 0
		for _, h := range hits {
			total += h.count
		}
		if total < minMatch || len(hits) == 0 {
			continue
		}
		candidates = append(candidates, matched{policy: p, dataType: hits})
	}

	if len(candidates) == 0 {
		return Result{Samples: map[string][]string{}, PolicyActions: map[string]string{}}
	}

	res := Result{
		Samples:       make(map[string][]string),
		PolicyActions: make(map[string]string),
	}
	dataTypeSet := make(map[string]bool)
	var bestAction wire.Action
	bestActionRank := -1
	bestPriority := int(^uint(0) >> 1) // max int
	var bestSeverity wire.Severity

	for _, m := range candidates {
		res.MatchedPolicies = append(res.MatchedPolicies, m.policy.PolicyID)
		decoded, _ := wire.DecodeConfig(m.policy.Type, m.policy.Config)
		action := actionOf(decoded)
		res.PolicyActions[m.policy.PolicyID] = string(action)

		for name, hit := range m.dataType {
			dataTypeSet[name] = true
			res.TotalMatches += hit.count
			if len(res.Samples[name]) < 3 {
				res.Samples[name] = append(res.Samples[name], hit.samples...)
			}
		}

		rank := actionRank(action)
		if rank > bestActionRank || (rank == bestActionRank && m.policy.Priority < bestPriority) {
			bestActionRank = rank
			bestAction = action
			bestPriority = m.policy.Priority
		}
		if severityRank(m.policy.Severity) > severityRank(bestSeverity) {
			bestSeverity = m.policy.Severity
		}
	}

	for name := range dataTypeSet {
		res.DataTypes = append(res.DataTypes, name)
	}
	sort.Strings(res.DataTypes)
	sort.Strings(res.MatchedPolicies)

	res.Action = bestAction
	res.Severity = bestSeverity
	return res
}

func typesForEventType(t wire.EventType) []wire.PolicyType {
	switch t {
	case wire.EventTypeFile:
		return []wire.PolicyType{wire.PolicyTypeFileSystem, wire.PolicyTypeFileTransfer}
	case wire.EventTypeClipboard:
		return []wire.PolicyType{wire.PolicyTypeClipboard}
	case wire.EventTypeUSB:
		return []wire.PolicyType{wire.PolicyTypeUSBTransfer}
	default:
		return nil
	}
}

func containsType(types []wire.PolicyType, t wire.PolicyType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func monitoredEventsOf(decoded any) []string {
	switch cfg := decoded.(type) {
	case wire.FileSystemConfig:
		return cfg.MonitoredEvents
	case wire.ClipboardConfig:
		return cfg.MonitoredEvents
	case wire.USBTransferConfig:
		return nil
	default:
		return nil
	}
}

func actionOf(decoded any) wire.Action {
	switch cfg := decoded.(type) {
	case wire.FileSystemConfig:
		return cfg.Action
	case wire.ClipboardConfig:
		return cfg.Action
	case wire.USBTransferConfig:
		return cfg.Action
	default:
		return wire.ActionLog
	}
}
