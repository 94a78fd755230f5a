package script

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	s, err := Parse([]byte(`
name: quick
fps: 20
steps:
  - action: start
  - duration: 1.5s
    yaw: -12
  - duration: 250ms
    smile: 0.8
    note: grin
`))
	require.NoError(t, err)

	assert.Equal(t, "quick", s.Name)
	assert.Equal(t, 20.0, s.fps())
	require.Len(t, s.Steps, 3)
	assert.Equal(t, ActionStart, s.Steps[0].Action)
	assert.Equal(t, 1500*time.Millisecond, s.Steps[1].Duration)
	assert.Equal(t, -12.0, s.Steps[1].Measurement().YawDegrees)
	assert.Equal(t, 0.8, s.Steps[2].Measurement().SmilingProbability)
	assert.Equal(t, 1750*time.Millisecond, s.Duration())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "steps: [unclosed"},
		{"no steps", "name: empty"},
		{"zero duration", "steps:\n  - yaw: 0"},
		{"unknown action", "steps:\n  - action: jump"},
		{"negative fps", "fps: -1\nsteps:\n  - duration: 1s"},
		{"bad duration", "steps:\n  - duration: soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidScript))
		})
	}
}

func TestStep_Frames(t *testing.T) {
	assert.Equal(t, 30, Step{Duration: 3 * time.Second}.Frames(10))
	assert.Equal(t, 1, Step{Duration: 100 * time.Millisecond}.Frames(10))
	assert.Equal(t, 1, Step{Duration: time.Millisecond}.Frames(10), "short steps still send one frame")
	assert.Equal(t, 0, Step{Action: ActionStart, Duration: time.Second}.Frames(10))
	assert.Equal(t, 0, Step{}.Frames(10))
}

func TestScript_FrameCount(t *testing.T) {
	s, err := Parse([]byte("fps: 10\nsteps:\n  - action: start\n  - duration: 3s\n  - duration: 1ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 31, s.FrameCount(0))
	assert.Equal(t, 61, s.FrameCount(20))
}

func TestDefaultFrameRate(t *testing.T) {
	s, err := Parse([]byte("steps:\n  - duration: 1s"))
	require.NoError(t, err)
	assert.Equal(t, DefaultFrameRate, s.fps())
}

func TestEmbeddedScripts(t *testing.T) {
	names, err := ListEmbedded()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"three_tasks", "wrong_way", "restart"}, names)

	for _, name := range names {
		s, err := LoadEmbedded(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name)
		assert.Equal(t, ActionStart, s.Steps[0].Action, "%s starts the challenge first", name)
	}

	_, err = LoadEmbedded("nope")
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - action: start\n  - duration: 2s\n"), 0o644))

	s, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", s.Name, "name defaults to the file name")

	s, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", s.Name)

	s, err = Load("three_tasks")
	require.NoError(t, err)
	assert.Equal(t, "three_tasks", s.Name)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
