package collectors

import (
	"strconv"
	"strings"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
)

// kstatEntry is one `kstat -p` line: module:instance:name:statistic, a tab,
// and the value.
type kstatEntry struct {
	Module   string
	Instance int
	Name     string
	Stat     string
	Value    string
}

// parseKstat decodes `kstat -p` output. Lines that do not carry the
// four-part key are dropped with a debug log; values are kept as strings
// because kstats mix counters, floats and names.
func (s *Service) parseKstat(out string) []kstatEntry {
	lines := parse.Lines(out)
	entries := make([]kstatEntry, 0, len(lines))
	for _, line := range lines {
		// The key and value are tab-separated; statistic names may contain
		// spaces (sd error counters), so a space is only a fallback.
		sep := strings.IndexByte(line, '\t')
		if sep < 0 {
			sep = strings.IndexByte(line, ' ')
		}
		if sep < 0 {
			s.logger.Debug().Str("line", line).Msg("skipping kstat line without a value")
			continue
		}
		key := strings.SplitN(line[:sep], ":", 4)
		if len(key) != 4 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed kstat key")
			continue
		}
		inst, err := strconv.Atoi(key[1])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping kstat key with non-numeric instance")
			continue
		}
		entries = append(entries, kstatEntry{
			Module:   key[0],
			Instance: inst,
			Name:     key[2],
			Stat:     key[3],
			Value:    strings.TrimSpace(line[sep:]),
		})
	}
	return entries
}

// kstatCounters collapses entries for a single statistic set into a
// stat-to-value map, keeping only plain non-negative integers. Float and
// string statistics (crtime, snaptime, class) are simply not counters and
// are skipped without complaint.
func kstatCounters(entries []kstatEntry) map[string]int64 {
	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		v, err := parse.Counter(e.Value)
		if err != nil {
			continue
		}
		out[e.Stat] = v
	}
	return out
}
