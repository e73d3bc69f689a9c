package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxyaudit/pkg/models"
)

func TestRootCmd_RequiresTwoArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"0x01"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

func TestPrintJSON_VerdictLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, models.NotUpgraded()))
	assert.Equal(t, "{\n  \"upgraded\": false\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, printJSON(&buf, models.Upgraded("0xB7277a6e95992041568D9391D09d0122023778A2", "0x6080", false)))
	assert.Equal(t, `{
  "upgraded": true,
  "new_implementation_address": "0xB7277a6e95992041568D9391D09d0122023778A2",
  "new_implementation_bytecode": "0x6080",
  "bytecode_changed": false
}
`, buf.String())
}
