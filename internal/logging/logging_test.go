package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func TestNamed(t *testing.T) {
	old := Get()
	defer Set(old)

	var buf bytes.Buffer
	Set(stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&buf))).Logger())

	Named("system").Info().Int("n", 3).Log("hello")

	s := buf.String()
	for _, want := range []string{`"logger":"system"`, `"n":3`, `"msg":"hello"`} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in %s", want, s)
		}
	}
}

func TestSet_nil(t *testing.T) {
	old := Get()
	defer Set(old)

	Set(nil)
	if Named("x") != nil {
		t.Fatal("expected nil logger")
	}
	// must not panic
	Named("x").Err().Log("dropped")
}

func TestNewDefault_level(t *testing.T) {
	l := NewDefault(logiface.LevelError)
	if l.Info().Enabled() {
		t.Error("info should be disabled")
	}
	if !l.Err().Enabled() {
		t.Error("err should be enabled")
	}
}

func TestAllow(t *testing.T) {
	type category struct{ name string }
	c := category{"test-allow"}
	var allowed int
	for range 10 {
		if Allow(c) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected 5 allowed, got %d", allowed)
	}
}
