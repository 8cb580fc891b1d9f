package knowledge

import "testing"

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		service string
		hmo     string
		tier    string
		wantErr bool
	}{
		// ── Canonical layout ────────────────────────────────────────────
		{
			name:    "gold tier",
			path:    "/data/processed/dentel_services/maccabi/gold.json",
			service: "dentel_services",
			hmo:     "maccabi",
			tier:    "gold",
		},
		{
			name:    "mixed case is lowered",
			path:    "/data/processed/Optometry/Clalit/Bronze.json",
			service: "optometry",
			hmo:     "clalit",
			tier:    "bronze",
		},
		// ── Aliases ─────────────────────────────────────────────────────
		{
			name:    "meuchedet spelling",
			path:    "/data/processed/pragnancy_services/meuchedet/silver.json",
			service: "pragnancy_services",
			hmo:     "meuhedet",
			tier:    "silver",
		},
		{
			name:    "klalit spelling",
			path:    "/data/processed/workshops_services/klalit/gold.json",
			service: "workshops_services",
			hmo:     "clalit",
			tier:    "gold",
		},
		// ── Rejected shapes ─────────────────────────────────────────────
		{
			name:    "too shallow",
			path:    "/data/processed/maccabi/gold.json",
			wantErr: true,
		},
		{
			name:    "too deep",
			path:    "/data/processed/a/b/maccabi/gold.json",
			wantErr: true,
		},
		{
			name:    "not json",
			path:    "/data/processed/dentel_services/maccabi/gold.txt",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := InferMetadata("/data/processed", tc.path)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("InferMetadata(%q) = %+v, want error", tc.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("InferMetadata(%q) error: %v", tc.path, err)
			}
			if got.Service != tc.service {
				t.Errorf("Service = %q, want %q", got.Service, tc.service)
			}
			if got.HMO != tc.hmo {
				t.Errorf("HMO = %q, want %q", got.HMO, tc.hmo)
			}
			if got.Tier != tc.tier {
				t.Errorf("Tier = %q, want %q", got.Tier, tc.tier)
			}
		})
	}
}

func TestTrimSegments(t *testing.T) {
	t.Parallel()

	got := trimSegments("./A//b/./C.json")
	want := []string{"a", "b", "c.json"}
	if len(got) != len(want) {
		t.Fatalf("trimSegments = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, got[i], want[i])
		}
	}
}
