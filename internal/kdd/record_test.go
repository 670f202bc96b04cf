package kdd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// sampleLine is the first record of KDDTrain+.
const sampleLine = "0,tcp,ftp_data,SF,491,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,2,2,0.00,0.00,0.00,0.00,1.00,0.00,0.00,150,25,0.17,0.03,0.17,0.00,0.00,0.00,0.05,0.00,normal,20"

func replaceField(line string, idx int, v string) string {
	f := strings.Split(line, ",")
	f[idx] = v
	return strings.Join(f, ",")
}

func TestRead_DecodesSampleLine(t *testing.T) {
	t.Parallel()

	recs, err := Read(context.Background(), strings.NewReader(sampleLine+"\n"), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []ConnectionRecord{{
		Line:            1,
		Duration:        0,
		SrcBytes:        491,
		Count:           2,
		SrvCount:        2,
		SameSrvRate:     1,
		DifficultyLevel: 20,
		ProtocolType:    "tcp",
		Service:         "ftp_data",
		Flag:            "SF",
		Label:           "normal",
		Destination: DestinationKey{
			DstBytes:           0,
			DstHostCount:       150,
			DstHostSrvCount:    25,
			DstHostSameSrvRate: 0.17,
			DstHostDiffSrvRate: 0.03,
			DstHostSerrorRate:  0,
		},
	}}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_MalformedRows(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
	}{
		{"non-numeric src_bytes", replaceField(sampleLine, 4, "abc")},
		{"land out of range", replaceField(sampleLine, 6, "2")},
		{"logged_in out of range", replaceField(sampleLine, 11, "-1")},
		{"NaN rate", replaceField(sampleLine, 33, "NaN")},
		{"Inf rate", replaceField(sampleLine, 24, "+Inf")},
		{"empty label", replaceField(sampleLine, 41, "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			input := sampleLine + "\n" + tc.line + "\n"
			recs, err := Read(context.Background(), strings.NewReader(input), nil)
			if !errors.Is(err, ErrMalformedRow) {
				t.Fatalf("err=%v, want ErrMalformedRow", err)
			}
			if !strings.Contains(err.Error(), "line 2") {
				t.Fatalf("err=%q, want line 2", err)
			}
			if recs != nil {
				t.Fatalf("expected no records on failure, got %d", len(recs))
			}
		})
	}
}

func TestRead_ShortLineIsFatal(t *testing.T) {
	t.Parallel()

	_, err := Read(context.Background(), strings.NewReader("0,tcp,http,SF\n"), nil)
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("err=%v, want field count error on line 1", err)
	}
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("err=%v, want ErrMalformedRow", err)
	}
}

func TestDestinationKey_ValuesOrder(t *testing.T) {
	t.Parallel()

	k := DestinationKey{1, 2, 3, 0.5, 0.25, 0.125}
	got := k.Values()
	if len(got) != len(DestinationColumns) {
		t.Fatalf("len=%d, want %d", len(got), len(DestinationColumns))
	}
	want := []any{int64(1), int64(2), int64(3), 0.5, 0.25, 0.125}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "KDDTest+.txt")
	content := sampleLine + "\n" + replaceField(sampleLine, 41, "neptune") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	recs, err := ReadFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 2 || recs[1].Label != "neptune" || recs[1].Line != 2 {
		t.Fatalf("recs=%+v", recs)
	}

	if _, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
