package version

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCompare(t *testing.T) {
	type args struct {
		a, b string
	}
	type want struct {
		cmp int
		err bool
	}
	tests := map[string]struct {
		reason string
		args   args
		want   want
	}{
		"Equal":        {args: args{a: "1.2.3", b: "1.2.3"}, want: want{cmp: 0}},
		"LessPatch":    {args: args{a: "1.2.3", b: "1.2.4"}, want: want{cmp: -1}},
		"GreaterMinor": {args: args{a: "1.3.0", b: "1.2.9"}, want: want{cmp: 1}},
		"PreRelease":   {args: args{a: "1.0.0-alpha", b: "1.0.0"}, want: want{cmp: -1}},
		"Invalid":      {args: args{a: "not-a-version", b: "1.0.0"}, want: want{err: true}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			a, err := Parse(tc.args.a)
			if tc.want.err {
				if err == nil {
					t.Fatalf("Parse(%q): expected error, got none", tc.args.a)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.args.a, err)
			}
			b, err := Parse(tc.args.b)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.args.b, err)
			}

			if diff := cmp.Diff(tc.want.cmp, a.Compare(b)); diff != "" {
				t.Errorf("Compare(...): -want, +got:\n%s", diff)
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	v := MustParse("1.2.3-rc.1+build.5")
	if got := v.String(); got != "1.2.3-rc.1+build.5" {
		t.Errorf("String() = %q, want %q", got, "1.2.3-rc.1+build.5")
	}
}
