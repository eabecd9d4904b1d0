package cli

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/car_tracker/internal/fixlog"
	"github.com/relabs-tech/car_tracker/internal/gps"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	out, err := execute(t, "decode", "004F0BACFFFFBA44")
	require.NoError(t, err)
	assert.Equal(t, "(51.80332, -0.17852)\n", out)

	out, err = execute(t, "decode", "0x004f0bacffffba44")
	require.NoError(t, err)
	assert.Equal(t, "(51.80332, -0.17852)\n", out)
}

func TestDecodeCommandErrors(t *testing.T) {
	_, err := execute(t, "decode", "zz")
	assert.Error(t, err)

	_, err = execute(t, "decode", "004F0BAC")
	assert.Error(t, err)

	_, err = execute(t, "decode")
	assert.Error(t, err)
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	want := gps.Fix{Latitude: -33.86882, Longitude: 151.20929}
	payload, err := gps.EncodeFix(want)
	require.NoError(t, err)

	got, err := decodePayload(hex.EncodeToString(payload[:]))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLogCommand(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "fixes.log")
	l, err := fixlog.New(logPath, 1024)
	require.NoError(t, err)
	require.NoError(t, l.Append("2026-10-19T09:45:00Z", gps.Fix{Latitude: 51.80332, Longitude: -0.17852}))
	require.NoError(t, l.Append(fixlog.Placeholder, gps.Fix{Latitude: 51.80401, Longitude: -0.17911}))

	cfgPath := filepath.Join(dir, "tracker.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("fix_log:\n  path: "+logPath+"\n  max_bytes: 1024\n"), 0o644))

	out, err := execute(t, "log", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t,
		"2026-10-19T09:45:00Z (51.80332, -0.17852)\n"+fixlog.Placeholder+" (51.80401, -0.17911)\n",
		out)
}

func TestLogCommandWithoutPath(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("transports: [console]\n"), 0o644))

	_, err := execute(t, "log", "-c", cfgPath)
	assert.ErrorContains(t, err, "fix_log.path")
}

func TestRootCommandMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "load config")
}
