package chatsync

import (
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 5 << 20

// AllowedFileTypes maps accepted MIME types to their file extensions.
var AllowedFileTypes = map[string][]string{
	"image/jpeg":         {".jpg", ".jpeg"},
	"image/png":          {".png"},
	"image/gif":          {".gif"},
	"application/pdf":    {".pdf"},
	"text/plain":         {".txt"},
	"application/msword": {".doc"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {".docx"},
}

// FileUpload is a file selected for upload. Path is optional and only used
// for the preview of images read from disk.
type FileUpload struct {
	Name     string
	MIMEType string
	Data     []byte
	Path     string
}

// LoadFile reads path, detects its MIME type from content and validates it.
func LoadFile(path string) (FileUpload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileUpload{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return FileUpload{}, fmt.Errorf("%w: %s is a directory", ErrInvalidFile, path)
	}
	if info.Size() > MaxFileSize {
		return FileUpload{}, fmt.Errorf("%w: %s", ErrInvalidFile, sizeLimitText())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileUpload{}, fmt.Errorf("reading %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	f := FileUpload{
		Name:     filepath.Base(path),
		MIMEType: DetectMIMEType(filepath.Base(path), data),
		Data:     data,
		Path:     abs,
	}
	return f, f.Validate()
}

// DetectMIMEType sniffs data. A sniffed type that is itself allowed wins. A
// more general allowed type (text/plain for JSON or CSV) is accepted only when
// the file extension belongs to it. Archive and unknown-binary results fall
// back to the extension, since DOCX sniffs as a zip archive.
func DetectMIMEType(name string, data []byte) string {
	detected := mimetype.Detect(data)
	sniffed := baseType(detected)
	if _, ok := AllowedFileTypes[sniffed]; ok {
		return sniffed
	}

	ext := strings.ToLower(filepath.Ext(name))
	for m := detected.Parent(); m != nil; m = m.Parent() {
		if slices.Contains(AllowedFileTypes[baseType(m)], ext) {
			return baseType(m)
		}
	}

	if containerTypes[sniffed] {
		for typ, exts := range AllowedFileTypes {
			if slices.Contains(exts, ext) {
				return typ
			}
		}
	}
	return sniffed
}

// containerTypes are sniffing results too generic to contradict the extension.
var containerTypes = map[string]bool{
	"application/octet-stream":  true,
	"application/zip":           true,
	"application/x-ole-storage": true,
}

func baseType(m *mimetype.MIME) string {
	base, _, _ := strings.Cut(m.String(), ";")
	return base
}

// Validate checks presence, size and type.
func (f FileUpload) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: no file selected", ErrInvalidFile)
	}
	if len(f.Data) > MaxFileSize {
		return fmt.Errorf("%w: %s", ErrInvalidFile, sizeLimitText())
	}
	if _, ok := AllowedFileTypes[f.MIMEType]; !ok {
		return fmt.Errorf("%w: invalid file type %q, allowed types: %s",
			ErrInvalidFile, f.MIMEType, strings.Join(allowedExtensions(), ", "))
	}
	return nil
}

func sizeLimitText() string {
	return fmt.Sprintf("file size should not exceed %dMB", MaxFileSize/(1<<20))
}

func allowedExtensions() []string {
	var out []string
	for _, exts := range AllowedFileTypes {
		out = append(out, exts...)
	}
	sort.Strings(out)
	return out
}

// Ref returns the descriptor stored on the confirmation message.
func (f FileUpload) Ref() FileRef {
	return FileRef{
		Name:     f.Name,
		Size:     int64(len(f.Data)),
		MIMEType: f.MIMEType,
		Preview:  f.preview(),
	}
}

// preview is the image itself for images read from disk, otherwise an icon
// named after the extension.
func (f FileUpload) preview() string {
	if strings.HasPrefix(f.MIMEType, "image/") && f.Path != "" {
		return "file://" + filepath.ToSlash(f.Path)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
	if ext == "" {
		ext = "default"
	}
	return "/icons/" + ext + ".svg"
}

// Frame returns the out-of-band file frame with base64 content.
func (f FileUpload) Frame(clientID string) OutboundFile {
	return OutboundFile{
		Type: "file",
		Data: FilePayload{
			FileName: f.Name,
			FileType: f.MIMEType,
			FileData: base64.StdEncoding.EncodeToString(f.Data),
		},
		ClientID: clientID,
	}
}

// FormatFileSize renders a byte count the way file previews display it, e.g. "1.5 KB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + sizes[i]
}
