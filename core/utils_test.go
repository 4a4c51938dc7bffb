package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	first := GenerateRequestID()
	second := GenerateRequestID()

	assert.True(t, strings.HasPrefix(first, "req_"))
	assert.NotEqual(t, first, second)
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"多余空格", "SELECT   id  FROM t", "SELECT id FROM t"},
		{"换行和制表符", "SELECT id\n\tFROM t", "SELECT id FROM t"},
		{"首尾空白", "  SELECT 1  ", "SELECT 1"},
		{"空串", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeWhitespace(tt.input))
		})
	}
}

func TestStripSQLComments(t *testing.T) {
	t.Run("行注释", func(t *testing.T) {
		got := StripSQLComments("SELECT id -- pick id\nFROM t")
		assert.NotContains(t, got, "pick id")
		assert.Contains(t, got, "FROM t")
	})

	t.Run("块注释", func(t *testing.T) {
		got := StripSQLComments("SELECT /* all columns */ id FROM t")
		assert.Equal(t, "SELECT  id FROM t", got)
	})
}

func TestQueryFingerprint(t *testing.T) {
	t.Run("空白不敏感", func(t *testing.T) {
		a := QueryFingerprint("SELECT id FROM t")
		b := QueryFingerprint("SELECT   id\n\tFROM t")
		assert.Equal(t, a, b)
	})

	t.Run("大小写不敏感", func(t *testing.T) {
		a := QueryFingerprint("SELECT id FROM t")
		b := QueryFingerprint("select ID from T")
		assert.Equal(t, a, b)
	})

	t.Run("不同查询不同指纹", func(t *testing.T) {
		a := QueryFingerprint("SELECT id FROM t")
		b := QueryFingerprint("SELECT name FROM t")
		assert.NotEqual(t, a, b)
	})

	t.Run("指纹长度固定", func(t *testing.T) {
		assert.Len(t, QueryFingerprint("SELECT 1"), 64)
	})
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "exactly", TruncateString("exactly", 7))
	assert.Equal(t, "long st...", TruncateString("long string here", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "full text", TruncateString("full text", 0))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 GB", FormatBytes(1610612736))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500 ms", FormatDuration(500))
	assert.Equal(t, "2s", FormatDuration(2000))
	assert.Equal(t, "1m31.5s", FormatDuration(91500))
}
