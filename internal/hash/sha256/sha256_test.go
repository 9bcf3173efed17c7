package sha256

import "testing"

func TestDigest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{in: "hello world", want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	for _, tc := range tests {
		if got := Digest([]byte(tc.in)); got != tc.want {
			t.Fatalf("Digest(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
