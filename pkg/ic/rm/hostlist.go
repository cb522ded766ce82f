package rm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
)

// ParseHostlist decodes Slurm's hostlist wire format: a
// comma-separated list of "host:cpus" tokens built one node at a time.
// A bare hostname with no ":cpus" suffix is accepted with a zero CPU
// count, for callers that only need node identity.
//
// It additionally tolerates the scheduler's trailing-CPU-group
// repetition encoding Slurm itself emits: a token of the form
// "prefix(cpus,reps)" expands to reps hosts named prefix0..prefix(reps-1),
// each carrying cpus CPUs, rather than spelling out reps individual
// "prefixN:cpus" tokens.
func ParseHostlist(s string) ([]model.Host, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	entries, err := splitTopLevel(s)
	if err != nil {
		return nil, err
	}

	hosts := make([]model.Host, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if open := strings.IndexByte(entry, '('); open >= 0 {
			if !strings.HasSuffix(entry, ")") {
				return nil, fmt.Errorf("rm: malformed hostlist entry %q: missing closing paren", entry)
			}
			prefix := entry[:open]
			group, err := parseGroup(entry[open+1 : len(entry)-1])
			if err != nil {
				return nil, fmt.Errorf("rm: malformed hostlist entry %q: %w", entry, err)
			}
			for i := 0; i < group.reps; i++ {
				hosts = append(hosts, model.Host{Name: fmt.Sprintf("%s%d", prefix, i), CPUs: group.cpus})
			}
			continue
		}

		colon := strings.LastIndexByte(entry, ':')
		if colon < 0 {
			hosts = append(hosts, model.Host{Name: entry})
			continue
		}
		name := entry[:colon]
		cpus, err := strconv.ParseUint(entry[colon+1:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("rm: malformed hostlist entry %q: %w", entry, err)
		}
		hosts = append(hosts, model.Host{Name: name, CPUs: uint32(cpus)})
	}
	return hosts, nil
}

type hostGroup struct {
	cpus uint32
	reps int
}

// parseGroup parses a "(cpus,reps)" body into its two fields.
func parseGroup(body string) (hostGroup, error) {
	fields := strings.Split(body, ",")
	if len(fields) != 2 {
		return hostGroup{}, fmt.Errorf("expected (cpus,reps), got %q", body)
	}
	cpus, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
	if err != nil {
		return hostGroup{}, fmt.Errorf("malformed cpu count: %w", err)
	}
	reps, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return hostGroup{}, fmt.Errorf("malformed repetition count: %w", err)
	}
	if reps < 1 {
		return hostGroup{}, fmt.Errorf("reps must be >= 1, got %d", reps)
	}
	return hostGroup{cpus: uint32(cpus), reps: reps}, nil
}

// splitTopLevel splits s on commas that are not nested inside parens,
// since a group's own "(cpus,reps)" comma must not end the entry.
func splitTopLevel(s string) ([]string, error) {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("rm: malformed hostlist %q: unbalanced parens", s)
			}
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("rm: malformed hostlist %q: unbalanced parens", s)
	}
	out = append(out, s[start:])
	return out, nil
}

// ExpandGroupedHosts mirrors Slurm's own node-list expansion logic:
// Slurm reports a job's per-node CPU count grouped
// by consecutive nodes sharing the same count ("this group of reps
// consecutive nodes each has cpus CPUs"), and this walks names in
// lockstep with the group boundaries to produce one model.Host per
// node with its group's CPU count attached. len(groupCPUs) must equal
// len(groupReps); the sum of groupReps must equal len(names) or the
// expansion is truncated at whichever runs out first, since a
// malformed response from Slurm should degrade to partial data rather
// than fail the whole lookup.
func ExpandGroupedHosts(names []string, groupCPUs []uint32, groupReps []uint32) []model.Host {
	hosts := make([]model.Host, 0, len(names))
	group := 0
	remaining := uint32(0)
	for _, name := range names {
		for remaining == 0 {
			if group >= len(groupCPUs) || group >= len(groupReps) {
				return hosts
			}
			remaining = groupReps[group]
			if remaining == 0 {
				group++
				continue
			}
		}
		hosts = append(hosts, model.Host{Name: name, CPUs: groupCPUs[group]})
		remaining--
		if remaining == 0 {
			group++
		}
	}
	return hosts
}

// FormatHostlist renders hosts back into the "host:cpus,host:cpus"
// wire encoding ParseHostlist accepts.
func FormatHostlist(hosts []model.Host) string {
	parts := make([]string, len(hosts))
	for i, h := range hosts {
		if h.CPUs == 0 {
			parts[i] = h.Name
			continue
		}
		parts[i] = fmt.Sprintf("%s:%d", h.Name, h.CPUs)
	}
	return strings.Join(parts, ",")
}
