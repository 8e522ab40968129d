package ingestion

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

type Upload interface {
	Filename() string
	Open() (io.ReadCloser, error)
}

// FileUpload ingests a file already on disk, as the CLI does.
type FileUpload struct {
	Path string
}

func (f FileUpload) Filename() string {
	return filepath.Base(f.Path)
}

func (f FileUpload) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

type MultipartUpload struct {
	Header *multipart.FileHeader
}

func (m MultipartUpload) Filename() string {
	return m.Header.Filename
}

func (m MultipartUpload) Open() (io.ReadCloser, error) {
	return m.Header.Open()
}
