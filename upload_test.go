package chatsync

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// ============================================================================
// Validation
// ============================================================================

func TestFileUploadValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    FileUpload
		wantErr string
	}{
		{"valid text", FileUpload{Name: "a.txt", MIMEType: "text/plain", Data: []byte("x")}, ""},
		{"valid at the limit", FileUpload{Name: "a.pdf", MIMEType: "application/pdf", Data: make([]byte, MaxFileSize)}, ""},
		{"no file", FileUpload{}, "no file selected"},
		{"too large", FileUpload{Name: "a.pdf", MIMEType: "application/pdf", Data: make([]byte, MaxFileSize+1)}, "file size should not exceed 5MB"},
		{"bad type", FileUpload{Name: "a.zip", MIMEType: "application/zip", Data: []byte("x")}, "invalid file type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.file.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidFile)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	t.Run("type error lists allowed extensions", func(t *testing.T) {
		err := FileUpload{Name: "a.exe", MIMEType: "application/x-msdownload"}.Validate()
		require.Error(t, err)
		for _, ext := range []string{".jpg", ".png", ".gif", ".pdf", ".txt", ".doc", ".docx"} {
			assert.Contains(t, err.Error(), ext)
		}
	})
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"png by content", "picture", pngHeader, "image/png"},
		{"png misnamed", "picture.txt", pngHeader, "image/png"},
		{"plain text", "notes.txt", []byte("hello world\n"), "text/plain"},
		{"pdf", "doc.pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), "application/pdf"},
		{"docx falls back to extension", "report.docx", []byte("PK\x03\x04\x14\x00\x06\x00"),
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"unknown binary", "blob.bin", []byte{0x00, 0x01, 0x02, 0x03}, "application/octet-stream"},
		{"json keeps its own type", "data.json", []byte(`{"name":"chatsync","tags":["a","b"]}`), "application/json"},
		{"csv keeps its own type", "table.csv", []byte("id,name,size\n1,alpha,10\n2,beta,20\n3,gamma,30\n"), "text/csv"},
		{"json named as text", "notes.txt", []byte(`{"name":"chatsync"}`), "text/plain"},
		{"extension cannot relabel text", "fake.pdf", []byte(`{"name":"chatsync"}`), "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMIMEType(tt.file, tt.data))
		})
	}
}

// ============================================================================
// LoadFile
// ============================================================================

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	t.Run("text file", func(t *testing.T) {
		path := write("notes.txt", []byte("some notes"))
		f, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "notes.txt", f.Name)
		assert.Equal(t, "text/plain", f.MIMEType)
		assert.Equal(t, "some notes", string(f.Data))
		assert.True(t, filepath.IsAbs(f.Path))
	})

	t.Run("image preview points at the file", func(t *testing.T) {
		path := write("pixel.png", pngHeader)
		f, err := LoadFile(path)
		require.NoError(t, err)
		ref := f.Ref()
		assert.Equal(t, "image/png", ref.MIMEType)
		assert.Equal(t, int64(len(pngHeader)), ref.Size)
		assert.True(t, strings.HasPrefix(ref.Preview, "file://"))
		assert.True(t, strings.HasSuffix(ref.Preview, "pixel.png"))
	})

	t.Run("too large", func(t *testing.T) {
		path := write("big.txt", bytes.Repeat([]byte("a"), MaxFileSize+1))
		_, err := LoadFile(path)
		assert.ErrorIs(t, err, ErrInvalidFile)
	})

	t.Run("disallowed type", func(t *testing.T) {
		path := write("blob.bin", []byte{0x00, 0x01, 0x02, 0x03})
		f, err := LoadFile(path)
		assert.ErrorIs(t, err, ErrInvalidFile)
		assert.Equal(t, "blob.bin", f.Name)
	})

	t.Run("json is not plain text", func(t *testing.T) {
		path := write("data.json", []byte(`{"name":"chatsync","tags":["a","b"]}`))
		f, err := LoadFile(path)
		assert.ErrorIs(t, err, ErrInvalidFile)
		assert.Equal(t, "application/json", f.MIMEType)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := LoadFile(dir)
		assert.ErrorIs(t, err, ErrInvalidFile)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "nope.txt"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

// ============================================================================
// Descriptors
// ============================================================================

func TestFileRefPreview(t *testing.T) {
	tests := []struct {
		name string
		file FileUpload
		want string
	}{
		{"pdf icon", FileUpload{Name: "a.PDF", MIMEType: "application/pdf"}, "/icons/pdf.svg"},
		{"image without path", FileUpload{Name: "a.png", MIMEType: "image/png"}, "/icons/png.svg"},
		{"no extension", FileUpload{Name: "README", MIMEType: "text/plain"}, "/icons/default.svg"},
		{"image with path", FileUpload{Name: "a.png", MIMEType: "image/png", Path: "/tmp/a.png"}, "file:///tmp/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.file.Ref().Preview)
		})
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 Bytes"},
		{512, "512 Bytes"},
		{1536, "1.5 KB"},
		{2048, "2 KB"},
		{5 << 20, "5 MB"},
		{3 << 30, "3 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFileSize(tt.bytes))
		})
	}
}
