package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandPrintsBuildInfo(t *testing.T) {
	cmd := newRootCmd("1.2.3 (commit abcdef0, built 2026-08-31)")

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())

	require.Contains(t, out.String(), "1.2.3")
	require.Contains(t, out.String(), "commit abcdef0")
	require.Contains(t, out.String(), "built 2026-08-31")
}
