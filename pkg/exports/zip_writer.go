package exports

import (
	"archive/zip"
	"fmt"
	"io"
)

// zipEntryMode mirrors zip_uploader.rs's ZIP_ENTRY_PERMISSIONS (0o644:
// read-write for owner, read for everyone else).
const zipEntryMode = 0o644

const readmeContents = `# Welcome to your snapshot export!

This ZIP file contains a snapshot of the tables in your deployment.

Documents for each table are listed as lines of JSON in
<table_name>/documents.jsonl files, and each table's inferred shape is
recorded alongside it in <table_name>/generated_schema.jsonl.
`

// snapshotZipWriter is the Go counterpart of zip_uploader.rs's
// ZipSnapshotUpload: a thin wrapper over the ZIP writer that fixes the
// entry permissions and compression method for every member and always
// opens with a README.
type snapshotZipWriter struct {
	zw *zip.Writer
}

func newSnapshotZipWriter(w io.Writer) (*snapshotZipWriter, error) {
	s := &snapshotZipWriter{zw: zip.NewWriter(w)}
	if err := s.writeFullFile("README.md", []byte(readmeContents)); err != nil {
		return nil, err
	}
	return s, nil
}

// writeFullFile writes path as one complete deflated ZIP entry.
func (s *snapshotZipWriter) writeFullFile(path string, contents []byte) error {
	fw, err := s.createEntry(path)
	if err != nil {
		return err
	}
	_, err = fw.Write(contents)
	return err
}

// streamFullFile copies r into path without buffering it all in memory
// first - used for `_storage` blobs, which may be large.
func (s *snapshotZipWriter) streamFullFile(path string, r io.Reader) error {
	fw, err := s.createEntry(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, r)
	return err
}

func (s *snapshotZipWriter) createEntry(path string) (io.Writer, error) {
	hdr := &zip.FileHeader{Name: path, Method: zip.Deflate}
	hdr.SetMode(zipEntryMode)
	return s.zw.CreateHeader(hdr)
}

// tableUpload is the Go counterpart of ZipSnapshotTableUpload: a
// line-delimited JSON writer scoped to one table's documents.jsonl.
type tableUpload struct {
	w io.Writer
}

func (s *snapshotZipWriter) startTable(pathPrefix, tableName string) (*tableUpload, error) {
	w, err := s.createEntry(fmt.Sprintf("%s%s/documents.jsonl", pathPrefix, tableName))
	if err != nil {
		return nil, err
	}
	return &tableUpload{w: w}, nil
}

func (t *tableUpload) writeLine(raw []byte) error {
	if _, err := t.w.Write(raw); err != nil {
		return err
	}
	_, err := t.w.Write([]byte("\n"))
	return err
}

func (s *snapshotZipWriter) writeGeneratedSchema(pathPrefix, tableName string, shape generatedShape) error {
	raw, err := shape.MarshalJSONLine()
	if err != nil {
		return err
	}
	return s.writeFullFile(fmt.Sprintf("%s%s/generated_schema.jsonl", pathPrefix, tableName), raw)
}

func (s *snapshotZipWriter) close() error {
	return s.zw.Close()
}
