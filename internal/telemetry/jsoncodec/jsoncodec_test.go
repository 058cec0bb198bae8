package jsoncodec

import "testing"

func TestCodecRoundTrip(t *testing.T) {
	type msg struct {
		A int    `json:"a"`
		B string `json:"b"`
	}

	c := Codec{}
	data, err := c.Marshal(msg{A: 1, B: "hi"})
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}

	var out msg
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if out.A != 1 || out.B != "hi" {
		t.Fatalf("got %+v, want {1 hi}", out)
	}
	if c.Name() != Name {
		t.Fatalf("got name %q, want %q", c.Name(), Name)
	}
}
