package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// GenerateRequestID 生成请求ID
func GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// 如果随机数生成失败，使用时间戳
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("req_%s", hex.EncodeToString(bytes))
}

var (
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	lineCommentRegex  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRegex = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// NormalizeWhitespace 压缩查询文本中的连续空白为单个空格
func NormalizeWhitespace(queryText string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(queryText, " "))
}

// StripSQLComments 移除查询文本中的行注释和块注释
func StripSQLComments(queryText string) string {
	queryText = lineCommentRegex.ReplaceAllString(queryText, "")
	queryText = blockCommentRegex.ReplaceAllString(queryText, "")
	return queryText
}

// QueryFingerprint 计算查询文本的指纹，用作缓存键。
// 指纹对空白不敏感，同一查询的不同排版命中同一缓存条目。
func QueryFingerprint(queryText string) string {
	normalized := strings.ToLower(NormalizeWhitespace(queryText))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// TruncateString 截断字符串到指定长度，超出部分以省略号结尾
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// FormatBytes 格式化字节数为可读字符串
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration 格式化毫秒时长为可读字符串
func FormatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%d ms", ms)
	}
	return d.Round(100 * time.Millisecond).String()
}
