package multitable

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"kddetl/internal/kdd"
	"kddetl/internal/storage"
)

type fakeLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) has(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

var (
	dstA = kdd.DestinationKey{DstBytes: 0, DstHostCount: 150, DstHostSrvCount: 25, DstHostSameSrvRate: 0.17, DstHostDiffSrvRate: 0.03, DstHostSerrorRate: 0}
	dstB = kdd.DestinationKey{DstBytes: 8153, DstHostCount: 9, DstHostSrvCount: 9, DstHostSameSrvRate: 1, DstHostDiffSrvRate: 0, DstHostSerrorRate: 0.11}
	dstC = kdd.DestinationKey{DstBytes: 0, DstHostCount: 255, DstHostSrvCount: 26, DstHostSameSrvRate: 0.1, DstHostDiffSrvRate: 0.05, DstHostSerrorRate: 1}
)

func rec(line int, proto, service, flag, label string, dst kdd.DestinationKey) kdd.ConnectionRecord {
	return kdd.ConnectionRecord{
		Line:            line,
		SrcBytes:        int64(100 * line),
		LoggedIn:        1,
		Count:           2,
		SrvCount:        2,
		SameSrvRate:     1,
		DifficultyLevel: 20,
		ProtocolType:    proto,
		Service:         service,
		Flag:            flag,
		Label:           label,
		Destination:     dst,
	}
}

// sampleRecords mixes repeated and distinct dimension values.
func sampleRecords() []kdd.ConnectionRecord {
	return []kdd.ConnectionRecord{
		rec(1, "tcp", "ftp_data", "SF", "normal", dstA),
		rec(2, "udp", "other", "SF", "normal", dstB),
		rec(3, "tcp", "private", "S0", "neptune", dstC),
		rec(4, "tcp", "http", "SF", "normal", dstB),
		rec(5, "tcp", "private", "REJ", "satan", dstC),
		rec(6, "icmp", "eco_i", "SF", "unknown_future_attack", dstA),
	}
}

// factView is a fact row with every foreign id dereferenced.
type factView struct {
	SrcBytes    int64
	Land        bool
	LoggedIn    bool
	Protocol    string
	Service     string
	Flag        string
	Attack      string
	Category    string
	Destination kdd.DestinationKey
}

// factViews reads the whole star schema back through the repository
// interface, so it works for every backend.
func factViews(t *testing.T, repo storage.MultiRepository) []factView {
	t.Helper()
	ctx := context.Background()

	protocols := textByID(t, repo, TableProtocolTypes, ColProtocolID, ColProtocolName)
	services := textByID(t, repo, TableServices, ColServiceID, ColServiceName)
	flags := textByID(t, repo, TableFlags, ColFlagID, ColFlagValue)
	categories := textByID(t, repo, TableAttackCategories, ColCategoryID, ColCategoryName)

	type attack struct {
		name     string
		category string
	}
	attacks := map[int64]attack{}
	rows, err := repo.SelectDimensionRows(ctx, TableAttackTypes, ColAttackID, []string{ColAttackName, ColCategoryID})
	if err != nil {
		t.Fatalf("select attack_types: %v", err)
	}
	for _, r := range rows {
		catID, err := storage.AsInt64(r.Values[1])
		if err != nil {
			t.Fatalf("attack category id: %v", err)
		}
		attacks[r.ID] = attack{name: mustText(t, r.Values[0]), category: categories[catID]}
	}

	dests := map[int64]kdd.DestinationKey{}
	rows, err = repo.SelectDimensionRows(ctx, TableDestination, ColDestinationID, kdd.DestinationColumns)
	if err != nil {
		t.Fatalf("select destination: %v", err)
	}
	for _, r := range rows {
		k, err := destinationKey(r)
		if err != nil {
			t.Fatalf("destination row %d: %v", r.ID, err)
		}
		dests[r.ID] = k
	}

	facts, err := repo.SelectDimensionRows(ctx, TableConnections, "connection_id", FactColumns)
	if err != nil {
		t.Fatalf("select connections: %v", err)
	}
	out := make([]factView, 0, len(facts))
	for _, f := range facts {
		v := f.Values
		a := attacks[optID(t, v[16])]
		out = append(out, factView{
			SrcBytes:    mustInt(t, v[1]),
			Land:        asBool(t, v[3]),
			LoggedIn:    asBool(t, v[4]),
			Protocol:    protocols[optID(t, v[13])],
			Service:     services[optID(t, v[14])],
			Flag:        flags[optID(t, v[15])],
			Attack:      a.name,
			Category:    a.category,
			Destination: dests[optID(t, v[17])],
		})
	}
	return out
}

func textByID(t *testing.T, repo storage.MultiRepository, table, idCol, col string) map[int64]string {
	t.Helper()
	rows, err := repo.SelectDimensionRows(context.Background(), table, idCol, []string{col})
	if err != nil {
		t.Fatalf("select %s: %v", table, err)
	}
	out := make(map[int64]string, len(rows))
	for _, r := range rows {
		out[r.ID] = mustText(t, r.Values[0])
	}
	return out
}

func mustText(t *testing.T, v any) string {
	t.Helper()
	s, err := textValue(v)
	if err != nil {
		t.Fatalf("text value: %v", err)
	}
	return s
}

func mustInt(t *testing.T, v any) int64 {
	t.Helper()
	n, err := storage.AsInt64(v)
	if err != nil {
		t.Fatalf("int value: %v", err)
	}
	return n
}

// optID returns 0 for a NULL foreign id.
func optID(t *testing.T, v any) int64 {
	t.Helper()
	if v == nil {
		return 0
	}
	return mustInt(t, v)
}

func asBool(t *testing.T, v any) bool {
	t.Helper()
	if b, ok := v.(bool); ok {
		return b
	}
	return mustInt(t, v) != 0
}

func viewsFor(recs []kdd.ConnectionRecord, category func(string) string) []factView {
	out := make([]factView, len(recs))
	for i, r := range recs {
		out[i] = factView{
			SrcBytes:    r.SrcBytes,
			Land:        r.Land == 1,
			LoggedIn:    r.LoggedIn == 1,
			Protocol:    r.ProtocolType,
			Service:     r.Service,
			Flag:        r.Flag,
			Attack:      r.Label,
			Category:    category(r.Label),
			Destination: r.Destination,
		}
	}
	return out
}
