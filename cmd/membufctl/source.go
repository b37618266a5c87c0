package main

import (
	"io"
	"os"
)

// fileSource adapts an *os.File to membuf.Source for local testing of the
// cache against a real, fully-seekable file, standing in for the remote
// object the teacher's backend would normally wrap.
type fileSource struct {
	f *os.File
}

func newFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileSource{f: f}, nil
}

func (s *fileSource) Read(buf []byte) (int, error) {
	return s.f.Read(buf)
}

func (s *fileSource) Seek(pos int64) error {
	_, err := s.f.Seek(pos, io.SeekStart)
	return err
}

func (s *fileSource) Tell() (int64, error) {
	return s.f.Seek(0, io.SeekCurrent)
}

func (s *fileSource) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *fileSource) CanSeek() bool     { return true }
func (s *fileSource) CanFastSeek() bool { return true }

func (s *fileSource) Close() error {
	return s.f.Close()
}
