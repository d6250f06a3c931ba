package debuglog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoLog is returned when no snapshot exists for the requested machine.
var ErrNoLog = errors.New("no log for machine")

// valueTruncateLimit caps string values carried into a diff report.
const valueTruncateLimit = 500

// ignoredKeys are machine identity fields that always differ between
// snapshots and carry no diagnostic signal.
var ignoredKeys = map[string]bool{
	"machine":   true,
	"posted_at": true,
	"hostname":  true,
}

// Snapshot is one machine's posted diagnostic payload.
type Snapshot map[string]any

// Diff is a single field-level difference between two snapshots. Values is
// keyed by machine name.
type Diff struct {
	Key    string         `json:"key"`
	Values map[string]any `json:"values"`
}

// Service stores diagnostic snapshots keyed by machine name.
type Service struct {
	mu     sync.RWMutex
	logs   map[string]Snapshot
	logger *zap.Logger
}

// NewService creates an empty snapshot store.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		logs:   make(map[string]Snapshot),
		logger: logger,
	}
}

// Put stores the snapshot for a machine, replacing any previous one. The
// receipt time is stamped into the payload.
func (s *Service) Put(machine string, payload Snapshot) {
	payload["posted_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	s.logs[machine] = payload
	s.mu.Unlock()

	s.logger.Info("Debug log received",
		zap.String("machine", machine),
		zap.Int("fields", len(payload)))
}

// Get returns the snapshot for one machine.
func (s *Service) Get(machine string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[machine]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLog, machine)
	}
	return log, nil
}

// All returns every stored snapshot keyed by machine.
func (s *Service) All() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.logs))
	for machine, log := range s.logs {
		out[machine] = log
	}
	return out
}

// Machines lists machine names with a stored snapshot, sorted.
func (s *Service) Machines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.logs))
	for machine := range s.logs {
		names = append(names, machine)
	}
	sort.Strings(names)
	return names
}

// Compare diffs the snapshots of two machines. Empty machine names default
// to the first two stored machines in sorted order.
func (s *Service) Compare(m1, m2 string) (string, string, []Diff, error) {
	machines := s.Machines()
	if len(machines) < 2 {
		return "", "", nil, fmt.Errorf("need 2 logs, have %d: %v", len(machines), machines)
	}
	if m1 == "" {
		m1 = machines[0]
	}
	if m2 == "" {
		m2 = machines[1]
	}

	log1, err := s.Get(m1)
	if err != nil {
		return m1, m2, nil, err
	}
	log2, err := s.Get(m2)
	if err != nil {
		return m1, m2, nil, err
	}
	return m1, m2, diffSnapshots(log1, log2, m1, m2), nil
}

// diffSnapshots walks the union of top-level keys and reports mismatches.
// Equal-length lists are compared element by element so a single divergent
// plugin or env var is pinpointed instead of dumping both lists.
func diffSnapshots(log1, log2 Snapshot, name1, name2 string) []Diff {
	var diffs []Diff
	keys := unionKeys(log1, log2)
	for _, key := range keys {
		if ignoredKeys[key] {
			continue
		}
		v1, v2 := log1[key], log2[key]
		list1, ok1 := v1.([]any)
		list2, ok2 := v2.([]any)
		if ok1 && ok2 && len(list1) == len(list2) {
			diffs = append(diffs, diffLists(key, list1, list2, name1, name2)...)
			continue
		}
		if !equalValues(v1, v2) {
			diffs = append(diffs, Diff{
				Key: key,
				Values: map[string]any{
					name1: truncateValue(v1),
					name2: truncateValue(v2),
				},
			})
		}
	}
	return diffs
}

func diffLists(key string, list1, list2 []any, name1, name2 string) []Diff {
	var diffs []Diff
	for i := range list1 {
		item1, ok1 := list1[i].(map[string]any)
		item2, ok2 := list2[i].(map[string]any)
		if ok1 && ok2 {
			for _, k := range unionKeys(item1, item2) {
				if !equalValues(item1[k], item2[k]) {
					diffs = append(diffs, Diff{
						Key: fmt.Sprintf("%s[%d].%s", key, i, k),
						Values: map[string]any{
							name1: item1[k],
							name2: item2[k],
						},
					})
				}
			}
			continue
		}
		if !equalValues(list1[i], list2[i]) {
			diffs = append(diffs, Diff{
				Key: fmt.Sprintf("%s[%d]", key, i),
				Values: map[string]any{
					name1: list1[i],
					name2: list2[i],
				},
			})
		}
	}
	return diffs
}

func unionKeys[V any](m1, m2 map[string]V) []string {
	seen := make(map[string]bool, len(m1)+len(m2))
	for k := range m1 {
		seen[k] = true
	}
	for k := range m2 {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// equalValues compares decoded JSON values by their canonical string form.
// Snapshots arrive as generic JSON so deep equality over maps and slices is
// what matters, not Go type identity.
func equalValues(v1, v2 any) bool {
	return fmt.Sprintf("%v", v1) == fmt.Sprintf("%v", v2)
}

func truncateValue(v any) any {
	if s, ok := v.(string); ok && len(s) > valueTruncateLimit {
		return s[:valueTruncateLimit]
	}
	return v
}
