package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_sameVar(t *testing.T) {
	a := Lookup("test.lookup.same", 10, "a")
	b := Lookup("TEST.Lookup.Same", 20, "b")
	require.Same(t, a, b)
	assert.Equal(t, 10, b.Value())
	assert.Equal(t, "a", b.Description())
	assert.Equal(t, "test.lookup.same", b.Name())
}

func TestLookup_typeMismatch(t *testing.T) {
	Lookup("test.lookup.mismatch", 1, "")
	assert.PanicsWithError(t, `config: type mismatch: "test.lookup.mismatch" is int, not string`, func() {
		Lookup("test.lookup.mismatch", "x", "")
	})
}

func TestLookup_invalidName(t *testing.T) {
	assert.Panics(t, func() { Lookup("bad-name", 1, "") })
	assert.Panics(t, func() { Lookup("", 1, "") })
}

func TestVar_listeners(t *testing.T) {
	v := Lookup("test.listeners", 1, "")
	var calls [][2]int
	id := v.AddListener(func(o, n int) { calls = append(calls, [2]int{o, n}) })

	v.SetValue(1)
	assert.Empty(t, calls, "unchanged value must not notify")

	v.SetValue(2)
	v.SetValue(3)
	assert.Equal(t, [][2]int{{1, 2}, {2, 3}}, calls)

	v.DelListener(id)
	v.SetValue(4)
	assert.Len(t, calls, 2)
}

func TestLoadYAML(t *testing.T) {
	timeout := Lookup("test.yaml.connect.timeout", 5000, "")
	ports := Lookup("test.yaml.ports", []int{80}, "")
	group := Lookup("test.yaml", map[string]any{}, "")

	require.NoError(t, LoadYAML([]byte(`
test:
  yaml:
    Connect:
      timeout: 250
    ports: [1, 2, 3]
    unknown: ignored
`)))

	assert.Equal(t, 250, timeout.Value())
	assert.Equal(t, []int{1, 2, 3}, ports.Value())
	assert.Contains(t, group.Value(), "ports")
}

func TestLoadYAML_decodeError(t *testing.T) {
	v := Lookup("test.yaml.bad", 1, "")
	err := LoadYAML([]byte("test: {yaml: {bad: not-a-number}}"))
	require.Error(t, err)
	assert.Equal(t, 1, v.Value())
}

func TestLoadTOML(t *testing.T) {
	v := Lookup("test.toml.stack_size", uint32(128*1024), "")
	name := Lookup("test.toml.name", "", "")

	require.NoError(t, LoadTOML([]byte(`
[test.toml]
stack_size = 65536
name = "worker"
`)))

	assert.Equal(t, uint32(65536), v.Value())
	assert.Equal(t, "worker", name.Value())
}

func TestVar_stringRoundTrip(t *testing.T) {
	v := Lookup("test.string", []string{"a"}, "")
	require.NoError(t, v.FromString("[b, c]"))
	assert.Equal(t, []string{"b", "c"}, v.Value())
	assert.Equal(t, "- b\n- c", v.String())
}

func TestVisit(t *testing.T) {
	Lookup("test.visit.b", 1, "")
	Lookup("test.visit.a", 1, "")
	var names []string
	Visit(func(s Setting) {
		if len(s.Name()) > 11 && s.Name()[:11] == "test.visit." {
			names = append(names, s.Name())
		}
	})
	assert.Equal(t, []string{"test.visit.a", "test.visit.b"}, names)
}
