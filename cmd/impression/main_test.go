package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "storage:\n" +
		"  provider: sqlite\n" +
		"  sqlite:\n" +
		"    path: " + filepath.Join(dir, "impression.db") + "\n" +
		"logging:\n" +
		"  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, configPath, stdin string, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&app{stdin: strings.NewReader(stdin), stdout: &out, stderr: &errOut})
	root.SetArgs(append([]string{"--config", configPath}, args...))
	require.NoError(t, root.Execute(), errOut.String())
	return out.String()
}

func TestProcessCommand(t *testing.T) {
	configPath := writeConfig(t)

	input := `{"user_id":"u1","message_id":"m1","text":"I love reading sci-fi novels"}

{"user_id":"u1","message_id":"m1","text":"I love reading sci-fi novels"}
not json
{"user_id":"u2","segments":[{"data":"ok"}]}
`
	out := run(t, configPath, input, "process")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)

	assert.Contains(t, lines[0], "u1 m1 [not_admitted] score=50.0 level=medium source=fallback")
	assert.Contains(t, lines[1], "u1 m1 [duplicate]")
	assert.Contains(t, lines[2], "line 4:")
	assert.Contains(t, lines[3], "score=20.0 level=low")

	state := run(t, configPath, "", "state", "u1")
	assert.Contains(t, state, "总消息: 1")
	assert.Contains(t, state, "好感度更新: 0")
}

func TestProfileCommands(t *testing.T) {
	configPath := writeConfig(t)

	assert.Contains(t, run(t, configPath, "", "profile", "get", "u1"), "暂无用户 u1 的印象数据")
	assert.Contains(t, run(t, configPath, "", "state", "u1"), "用户 u1 暂无消息记录")

	assert.Contains(t, run(t, configPath, "", "affection", "set", "u1", "85"), "好感度已设置为 85.0 (亲密)")
	assert.Contains(t, run(t, configPath, "", "profile", "dimension", "u1", "interests", "科幻小说"), "兴趣爱好已更新")
	assert.Equal(t, "科幻小说\n", run(t, configPath, "", "profile", "dimension", "u1", "interests_hobbies"))

	profile := run(t, configPath, "", "profile", "get", "u1")
	assert.Contains(t, profile, "印象摘要: 兴趣: 科幻小说")
	assert.Contains(t, profile, "好感度: 85.0/100 (亲密)")

	assert.Contains(t, run(t, configPath, "", "profile", "search", "u1", "科幻"), "找到关键词「科幻」")
	assert.Contains(t, run(t, configPath, "", "profile", "list"), "u1\t85.0 (亲密)\t0\t兴趣: 科幻小说")
}

func TestAffectionSetRejectsBadScore(t *testing.T) {
	configPath := writeConfig(t)

	var out bytes.Buffer
	root := newRootCmd(&app{stdin: strings.NewReader(""), stdout: &out, stderr: &out})
	root.SetArgs([]string{"--config", configPath, "affection", "set", "u1", "lots"})
	assert.Error(t, root.Execute())

	out.Reset()
	root = newRootCmd(&app{stdin: strings.NewReader(""), stdout: &out, stderr: &out})
	root.SetArgs([]string{"--config", configPath, "affection", "set", "u1", "NaN"})
	assert.Error(t, root.Execute())
	assert.NotContains(t, out.String(), "好感度已设置为")
}
