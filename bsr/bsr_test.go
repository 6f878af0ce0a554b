package bsr

import "testing"

func TestParseLocales(t *testing.T) {
	// WHAT: literal rank strings from several storefront locales parse into
	// the expected (category, rank) segments.
	// WHY: segmentation fallbacks and digit normalization are the whole
	// point of this parser; each locale exercises a different branch.
	cases := []struct {
		name string
		raw  string
		want Segments
	}{
		{
			name: "english single",
			raw:  "#1,234 in Home & Kitchen",
			want: Segments{{Name: "Home & Kitchen", Rank: 1234}},
		},
		{
			name: "english three segments with see-more hint",
			raw:  "#1,234 in Home & Kitchen (See Top 100 in Home & Kitchen) #56 in Storage & Organization #789 in Storage Bins",
			want: Segments{
				{Name: "Home & Kitchen", Rank: 1234},
				{Name: "Storage & Organization", Rank: 56},
				{Name: "Storage Bins", Rank: 789},
			},
		},
		{
			name: "german Nr separator with dot thousands",
			raw:  "Nr. 1.234 in Küche, Haushalt & Wohnen (Siehe Top 100 in Küche, Haushalt & Wohnen) Nr. 5 in Aufbewahrung",
			want: Segments{
				{Name: "Küche, Haushalt & Wohnen", Rank: 1234},
				{Name: "Aufbewahrung", Rank: 5},
			},
		},
		{
			name: "italian space-anchored n separator",
			raw:  "n. 567 in Casa e cucina (Visualizza i Top 100 nella categoria Casa e cucina) n. 12 in Contenitori",
			want: Segments{
				{Name: "Casa e cucina", Rank: 567},
				{Name: "Contenitori", Rank: 12},
			},
		},
		{
			name: "spanish single via marker strip",
			raw:  "nº1.234 en Hogar y cocina (Ver el Top 100 en Hogar y cocina)",
			want: Segments{{Name: "Hogar y cocina", Rank: 1234}},
		},
		{
			name: "portuguese em marker",
			raw:  "nº 4.321 em Cozinha (Conheça os 100 mais vendidos em Cozinha)",
			want: Segments{{Name: "Cozinha", Rank: 4321}},
		},
		{
			name: "japanese dash form",
			raw:  "おもちゃ - 1,500位",
			want: Segments{{Name: "おもちゃ", Rank: 1500}},
		},
		{
			name: "arabic-indic digits",
			raw:  "#٥٬٦٧٨ في المطبخ",
			want: Segments{{Name: "المطبخ", Rank: 5678}},
		},
		{
			name: "name-only marker segment",
			raw:  "in Toys & Games",
			want: Segments{{Name: "Toys & Games"}},
		},
		{
			name: "unparseable keeps whole text as name",
			raw:  "Climbing Gear",
			want: Segments{{Name: "Climbing Gear"}},
		},
		{
			name: "unbalanced see-more paren",
			raw:  "#12 in Kitchen (See Top 100",
			want: Segments{{Name: "Kitchen", Rank: 12}},
		},
		{
			name: "empty input",
			raw:  "",
			want: Segments{},
		},
		{
			name: "whitespace only",
			raw:  "   ",
			want: Segments{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.raw)
			if got != tc.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestLeadingSeparatorShift(t *testing.T) {
	// WHAT: a blank first split part shifts the segment start index by one.
	// WHY: "#1 in A" splits into ["", "1 in A"]; without the shift the main
	// category would land in position 1 instead of 0.
	got := Parse("#1 in A #2 in B")
	want := Segments{{Name: "A", Rank: 1}, {Name: "B", Rank: 2}}
	if got != want {
		t.Errorf("Parse = %+v, want %+v", got, want)
	}

	// No artifact, no shift.
	got = Parse("Видеоигры - 7位")
	if got[0].Rank != 7 {
		t.Errorf("rank = %d, want 7", got[0].Rank)
	}
}

func TestParseNeverPanicsOnGarbage(t *testing.T) {
	// WHAT: hostile or degenerate input degrades to empty segments.
	// WHY: the parser must never fail the enclosing item.
	for _, raw := range []string{"###", "()()", "Nr.Nr.Nr.", "位", "# ( #"} {
		_ = Parse(raw)
	}
}
