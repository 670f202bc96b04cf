package multitable

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"kddetl/internal/kdd"
	"kddetl/internal/storage/sqlite"
	"kddetl/internal/taxonomy"
)

// trainLine is the first record of KDDTrain+.
const trainLine = "0,tcp,ftp_data,SF,491,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,2,2,0.00,0.00,0.00,0.00,1.00,0.00,0.00,150,25,0.17,0.03,0.17,0.00,0.00,0.00,0.05,0.00,normal,20"

func kddLine(fields map[int]string) string {
	f := strings.Split(trainLine, ",")
	for i, v := range fields {
		f[i] = v
	}
	return strings.Join(f, ",")
}

func corpus() string {
	lines := []string{
		trainLine,
		kddLine(map[int]string{1: "udp", 2: "other", 4: "146", 41: "normal", 42: "15"}),
		kddLine(map[int]string{2: "private", 3: "S0", 4: "0", 11: "0", 31: "255", 32: "26", 33: "0.10", 34: "0.05", 37: "1.00", 41: "neptune", 42: "19"}),
		kddLine(map[int]string{2: "http", 4: "232", 5: "8153", 11: "1", 31: "30", 32: "255", 33: "1.00", 34: "0.00", 37: "0.03", 41: "normal", 42: "21"}),
		// same destination profile as the line above, different src_bytes
		kddLine(map[int]string{2: "http", 4: "199", 5: "8153", 11: "1", 31: "30", 32: "255", 33: "1.00", 34: "0.00", 37: "0.03", 41: "normal", 42: "21"}),
		kddLine(map[int]string{2: "private", 3: "REJ", 4: "0", 41: "satan", 42: "18"}),
		kddLine(map[int]string{1: "icmp", 2: "eco_i", 6: "1", 41: "unknown_future_attack", 42: "7"}),
	}
	return strings.Join(lines, "\n") + "\n"
}

func openSQLite(t *testing.T) *sqlite.MultiRepo {
	t.Helper()
	repo, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "kdd.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func TestEngine_SQLite_EndToEnd(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		opt  Options
	}{
		{name: "returning", opt: Options{AutoCreateTables: true, VerifyCounts: true, BatchSize: 3}},
		{name: "read_back", opt: Options{AutoCreateTables: true, VerifyCounts: true, ReadBackKeys: true}},
		{name: "nullable_keys", opt: Options{AutoCreateTables: true, VerifyCounts: true, OnMissing: OnMissingNull}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			recs, err := kdd.Read(ctx, strings.NewReader(corpus()), nil)
			if err != nil {
				t.Fatalf("kdd.Read: %v", err)
			}

			repo := openSQLite(t)
			e, _ := newEngine(repo, tc.opt)

			sum, err := e.Run(ctx, recs)
			if err != nil {
				t.Fatalf("first Run: %v", err)
			}
			if sum.Facts != int64(len(recs)) {
				t.Fatalf("facts=%d, want %d", sum.Facts, len(recs))
			}
			first := factViews(t, repo)

			want := viewsFor(recs, taxonomy.Default().Category)
			byBytes := cmpopts.SortSlices(func(a, b factView) bool {
				if a.SrcBytes != b.SrcBytes {
					return a.SrcBytes < b.SrcBytes
				}
				return a.Attack < b.Attack
			})
			if diff := cmp.Diff(want, first, byBytes); diff != "" {
				t.Fatalf("dereferenced facts (-want +got):\n%s", diff)
			}

			for table, n := range map[string]int64{
				TableAttackCategories: 5,
				TableAttackTypes:      4,
				TableProtocolTypes:    3,
				TableServices:         5,
				TableFlags:            3,
				TableDestination:      3,
				TableConnections:      7,
			} {
				got, err := repo.CountRows(ctx, table)
				if err != nil {
					t.Fatalf("CountRows(%s): %v", table, err)
				}
				if got != n {
					t.Fatalf("%s rows=%d, want %d", table, got, n)
				}
			}

			if _, err := e.Run(ctx, recs); err != nil {
				t.Fatalf("second Run: %v", err)
			}
			if diff := cmp.Diff(first, factViews(t, repo), byBytes); diff != "" {
				t.Fatalf("rerun changed the fact multiset (-first +second):\n%s", diff)
			}
		})
	}
}

func TestEngine_SQLite_SchemaMismatchIsFatal(t *testing.T) {
	t.Parallel()

	// Without auto-create the tables do not exist; the first statement fails.
	repo := openSQLite(t)
	e, _ := newEngine(repo, Options{})
	_, err := e.Run(context.Background(), sampleRecords())
	if err == nil || !strings.Contains(err.Error(), "reset:") {
		t.Fatalf("err=%v, want reset failure", err)
	}
}
