package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNormalize(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetArgs(append([]string{"normalize"}, args...))
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestNormalizeDate(t *testing.T) {
	out, err := runNormalize(t, "date", "2025년 6월 9일", "2025.6.9", "미정")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-09\n2025-06-09\n미정\n", out)
}

func TestNormalizeTime(t *testing.T) {
	out, err := runNormalize(t, "time", "오후 3시 30분", "9:05", "오전 12시")
	require.NoError(t, err)
	assert.Equal(t, "15:30\n09:05\n00:00\n", out)
}

func TestNormalizePhone(t *testing.T) {
	out, err := runNormalize(t, "phone", "01012345678", "+82 10 1234 5678")
	require.NoError(t, err)
	assert.Equal(t, "010-1234-5678\n010-1234-5678\n", out)
}

func TestNormalizeLabel(t *testing.T) {
	out, err := runNormalize(t, "label", "payment", "입금 완료", "미납", "모름")
	require.NoError(t, err)
	assert.Equal(t, "입금 완료\ttrue\n미납\tfalse\n모름\tunmapped\n", out)

	out, err = runNormalize(t, "label", "gender", "여")
	require.NoError(t, err)
	assert.Equal(t, "여\t\"female\"\n", out)
}

func TestNormalizeLabel_UnknownDomain(t *testing.T) {
	_, err := runNormalize(t, "label", "shoeSize", "270")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown domain")
}

func TestNormalize_RequiresValues(t *testing.T) {
	_, err := runNormalize(t, "date")
	assert.Error(t, err)
}
