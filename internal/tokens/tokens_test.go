package tokens

import "testing"

func TestEstimate(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"Hi", 1},
		{"hello world", 2},
		{"  spaced \n\t out  ", 2},
		{"你好world", 2},
		{"你好世界", 2},
		{"你好世", 2},
		{"你", 1},
		{"我爱 Go 语言", 3},
	}
	for _, tc := range cases {
		if got := Estimate(tc.text); got != tc.want {
			t.Fatalf("Estimate(%q): expected %d, got %d", tc.text, tc.want, got)
		}
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	text := "The quick 狐狸 jumps over 懒狗 twice"
	first := Estimate(text)
	for i := 0; i < 100; i++ {
		if got := Estimate(text); got != first {
			t.Fatalf("run %d: expected %d, got %d", i, first, got)
		}
	}
}

func TestEstimateNewlineJoinedPrompt(t *testing.T) {
	if got := Estimate("be brief\n你好world"); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
}
