package utils

import (
	"path/filepath"
	"strings"
)

// 支持导入的音频格式
var audioContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
}

var imageExts = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// IsAudioFile 根据扩展名判断是否为可导入的音频文件
func IsAudioFile(name string) bool {
	_, ok := audioContentTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// AudioContentType 返回音频文件的 Content-Type
func AudioContentType(name string) string {
	if ct, ok := audioContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ImageExt maps an image MIME type to a file extension, or "" if unknown.
func ImageExt(mimeType string) string {
	return imageExts[strings.ToLower(strings.TrimSpace(mimeType))]
}

// TitleFromFileName 去掉目录和扩展名，下划线替换为空格
func TitleFromFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = strings.ReplaceAll(title, "_", " ")
	return strings.Join(strings.Fields(title), " ")
}
