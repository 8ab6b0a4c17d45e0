package plugin

import (
	"context"
	"math"
	"testing"
)

func TestMathActivate(t *testing.T) {
	t.Parallel()

	p := NewMathPlugin()
	cases := []struct {
		input string
		want  bool
	}{
		{"Calculate 25 * 4 + 10^2", true},
		{"what is 2+2", true},
		{"7 * 6", true},
		{"tell me about go routines", false},
		{"calculate my taxes", false}, // trigger word but no digits
	}
	for _, tc := range cases {
		if got := p.Activate(tc.input); got != tc.want {
			t.Errorf("Activate(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestMathExecute(t *testing.T) {
	t.Parallel()

	p := NewMathPlugin()
	cases := []struct {
		name  string
		input string
		want  float64
	}{
		{"power binds tighter than product", "Calculate 25 * 4 + 10^2", 200},
		{"precedence", "2 + 3 * 4", 14},
		{"parens", "(2 + 3) * 4", 20},
		{"division", "10 / 4", 2.5},
		{"right-assoc power", "2 ^ 3 ^ 2", 512},
		{"negative", "5 - 9", -4},
		{"decimal", "1.5 * 2", 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, data, err := p.Execute(context.Background(), Request{Input: tc.input})
			if err != nil {
				t.Fatalf("Execute(%q): %v", tc.input, err)
			}
			got, ok := data["result"].(float64)
			if !ok {
				t.Fatalf("result missing from data: %v", data)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Execute(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestMathExecute_Summary(t *testing.T) {
	t.Parallel()

	p := NewMathPlugin()
	summary, _, err := p.Execute(context.Background(), Request{Input: "Calculate 25 * 4 + 10^2"})
	if err != nil {
		t.Fatal(err)
	}
	if summary != "25 * 4 + 10^2 = 200" {
		t.Errorf("got summary %q", summary)
	}
}

func TestMathExecute_Errors(t *testing.T) {
	t.Parallel()

	p := NewMathPlugin()
	cases := []string{
		"calculate nothing here",
		"1 / 0",
		"2 ^ (1 + 3",
	}
	for _, input := range cases {
		if _, _, err := p.Execute(context.Background(), Request{Input: input}); err == nil {
			t.Errorf("Execute(%q): expected error", input)
		}
	}
}
