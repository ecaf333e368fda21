package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamSettingPrecedence(t *testing.T) {
	f := NewStaticFacade(true)
	f.AddStreamSetting("", "", OpenStreamSetting{BufferingPolicy: "queue"})
	f.AddStreamSetting("", "conn-a", OpenStreamSetting{BufferingPolicy: "ring"})
	f.AddStreamSetting("image_stream.0", "", OpenStreamSetting{BufferingPolicy: "discard", BufferNum: 3})
	f.AddStreamSetting("image_stream.0", "conn-a", OpenStreamSetting{BufferingPolicy: "overwrite", BufferNum: 5})
	f.AddStreamSetting("stream.0", "", OpenStreamSetting{BufferingPolicy: "discard", BufferNum: 9})

	setting, ok := f.StreamSetting("image_stream.0", "conn-a")
	require.True(t, ok)
	require.Equal(t, 5, setting.BufferNum)

	setting, ok = f.StreamSetting("image_stream.0", "conn-b")
	require.True(t, ok)
	require.Equal(t, 3, setting.BufferNum)

	setting, ok = f.StreamSetting("other_stream.0", "conn-a")
	require.True(t, ok)
	require.Equal(t, BufferingOverwrite, setting.BufferingPolicy)

	setting, ok = f.StreamSetting("other_stream.0", "conn-z")
	require.True(t, ok)
	require.Equal(t, BufferingDiscard, setting.BufferingPolicy)

	// The default/default entry (step 4) wins before the suffix step is
	// reached, so the "stream.0" suffix entry is not used here.
	setting, ok = f.StreamSetting("weird_suffix_stream.0", "conn-z")
	require.True(t, ok)
	require.Equal(t, 0, setting.BufferNum)
}

func TestStreamSettingNoMatch(t *testing.T) {
	f := NewStaticFacade(false)
	_, ok := f.StreamSetting("unconfigured", "conn-x")
	require.False(t, ok)
}

func TestVerifySupportedStreamsWarnsOnUnmatchedKey(t *testing.T) {
	f := NewStaticFacade(true)
	f.AddStreamSetting("image_stream.0", "", OpenStreamSetting{})
	f.AddStreamSetting("ghost_stream.0", "", OpenStreamSetting{})

	warnings := f.VerifySupportedStreams(map[string]string{
		"device0.image_stream.0": "image",
	})
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "ghost_stream.0")
}

func TestLoadViperFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"client_enabled": true,
		"listeners": [{"connection_key": "conn-a", "primary_address": "127.0.0.1:8080"}],
		"stream_settings": [{"stream_key": "image_stream.0", "buffering_policy": "queue", "buffer_num": 4}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	facade, err := LoadViper(path)
	require.NoError(t, err)
	require.True(t, facade.IsClientEnabled())
	require.Len(t, facade.ListenerList(), 1)

	setting, ok := facade.StreamSetting("image_stream.0", "")
	require.True(t, ok)
	require.Equal(t, BufferingDiscard, setting.BufferingPolicy)
	require.Equal(t, 4, setting.BufferNum)
}
