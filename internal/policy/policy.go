// Package policy decides which tables the CRUD surface may touch.
//
// The forbidden set is read from an optional JSON or YAML file:
//
//	{"forbidden_tables": ["usuarios", "audit_*"]}
//
// The legacy key TablasProhibidas is read as well and merged in. Entries
// match table names case-insensitively; entries holding *, ? or [ are
// path.Match patterns.
//
// A qualified entry such as dbo.usuarios also forbids the bare table name
// when a request names no schema, since the default schema is only known
// to the server. A schema wildcard such as contabilidad.* therefore
// forbids every request that names no schema.
package policy

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Keys read from the policy file.
const (
	KeyForbidden       = "forbidden_tables"
	KeyForbiddenLegacy = "TablasProhibidas"
)

// Policy is safe for concurrent use. Reload swaps the whole rule set, so
// a reader sees either the old set or the new one.
type Policy struct {
	path   string
	logger *slog.Logger
	rules  atomic.Pointer[ruleSet]
}

type ruleSet struct {
	names    map[string]struct{}
	patterns []string
	entries  []string

	// table parts of qualified entries
	tableNames    map[string]struct{}
	tablePatterns []string
}

// New returns a fixed policy built from entries. It has no backing file,
// so Reload and Watch are no-ops.
func New(entries ...string) *Policy {
	p := &Policy{logger: slog.New(slog.DiscardHandler)}
	p.rules.Store(compile(entries, p.logger))
	return p
}

// Load reads the policy file at path. It never fails: a missing file
// allows every table and a malformed one is logged and treated as empty.
func Load(path string, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Policy{path: path, logger: logger.With("policy_file", path)}
	p.rules.Store(compile(nil, p.logger))
	p.Reload()
	return p
}

// Path returns the backing file, or "" for a fixed policy.
func (p *Policy) Path() string { return p.path }

// IsAllowed reports whether table is outside the forbidden set.
func (p *Policy) IsAllowed(table string) bool {
	rs := p.rules.Load()
	return !matches(rs.names, rs.patterns, normalize(table))
}

// TableAllowed reports whether table may be used in schema. With a schema
// both the bare and the qualified name are checked. Without one the bare
// name is also checked against the table part of every qualified entry.
func (p *Policy) TableAllowed(schema, table string) bool {
	rs := p.rules.Load()
	name := normalize(table)

	if matches(rs.names, rs.patterns, name) {
		return false
	}
	if s := normalize(schema); s != "" {
		return !matches(rs.names, rs.patterns, s+"."+name)
	}
	return !matches(rs.tableNames, rs.tablePatterns, name)
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func matches(names map[string]struct{}, patterns []string, name string) bool {
	if _, ok := names[name]; ok {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// Entries returns the forbidden entries, sorted.
func (p *Policy) Entries() []string {
	rs := p.rules.Load()
	out := make([]string, len(rs.entries))
	copy(out, rs.entries)
	return out
}

// Reload re-reads the backing file and replaces the rule set.
func (p *Policy) Reload() {
	if p.path == "" {
		return
	}
	entries := p.read()
	rs := compile(entries, p.logger)
	p.rules.Store(rs)
	p.logger.Info("table policy loaded", "forbidden", len(rs.entries))
}

func (p *Policy) read() []string {
	if _, err := os.Stat(p.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Info("no table policy file, all tables allowed")
		} else {
			p.logger.Warn("table policy file unreadable, all tables allowed", "error", err)
		}
		return nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(p.path), yaml.Parser()); err != nil {
		p.logger.Warn("table policy file malformed, all tables allowed", "error", err)
		return nil
	}

	entries := k.Strings(KeyForbidden)
	entries = append(entries, k.Strings(KeyForbiddenLegacy)...)
	return entries
}

func compile(entries []string, logger *slog.Logger) *ruleSet {
	rs := &ruleSet{names: map[string]struct{}{}, tableNames: map[string]struct{}{}}
	seen := map[string]struct{}{}

	for _, e := range entries {
		e = normalize(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}

		if strings.ContainsAny(e, "*?[") {
			if _, err := path.Match(e, ""); err != nil {
				logger.Warn("dropping malformed table pattern", "pattern", e, "error", err)
				continue
			}
			rs.patterns = append(rs.patterns, e)
		} else {
			rs.names[e] = struct{}{}
		}
		seen[e] = struct{}{}
		rs.entries = append(rs.entries, e)

		if i := strings.LastIndexByte(e, '.'); i >= 0 && i < len(e)-1 {
			addTablePart(rs, e[i+1:])
		}
	}

	sort.Strings(rs.entries)
	return rs
}

func addTablePart(rs *ruleSet, part string) {
	if !strings.ContainsAny(part, "*?[") {
		rs.tableNames[part] = struct{}{}
		return
	}
	if _, err := path.Match(part, ""); err != nil {
		return
	}
	for _, pat := range rs.tablePatterns {
		if pat == part {
			return
		}
	}
	rs.tablePatterns = append(rs.tablePatterns, part)
}
