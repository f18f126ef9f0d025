package filepath_test

import (
	"testing"

	"github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/stretchr/testify/require"
)

func TestEqualityIsCaseInsensitive(t *testing.T) {
	a := filepath.New(1, "Audio/Music/Theme", "Wav")
	b := filepath.New(1, "audio/music/theme", "wav")
	require.True(t, a.Equal(b))
	require.Equal(t, a.Key(), b.Key())
}

func TestDifferentDirectoriesAreNotEqual(t *testing.T) {
	a := filepath.New(1, "audio/music/theme", "wav")
	b := filepath.New(2, "audio/music/theme", "wav")
	require.False(t, a.Equal(b))
}

func TestNewFromRelativeFilenameSplitsExtension(t *testing.T) {
	fp := filepath.NewFromRelativeFilename(1, "Data/Config/Settings.json")
	require.Equal(t, "data/config/settings", fp.RelativePathWithoutExtension())
	require.Equal(t, "json", fp.FileType())
	require.Equal(t, "data/config/settings.json", fp.RelativeFilename())
}

func TestNewFromRelativeFilenameWithoutExtension(t *testing.T) {
	fp := filepath.NewFromRelativeFilename(1, "Data/Readme")
	require.Equal(t, "data/readme", fp.RelativePathWithoutExtension())
	require.Equal(t, "", fp.FileType())
	require.Equal(t, "data/readme", fp.RelativeFilename())
}

func TestBackslashesAreNormalized(t *testing.T) {
	a := filepath.NewFromRelativeFilename(1, `Data\Config\Settings.json`)
	b := filepath.NewFromRelativeFilename(1, "Data/Config/Settings.json")
	require.True(t, a.Equal(b))
}

func TestIsZero(t *testing.T) {
	var fp filepath.FilePath
	require.True(t, fp.IsZero())
	require.False(t, filepath.New(1, "a", "b").IsZero())
}
