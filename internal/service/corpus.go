package service

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"docchat-client/pkg/search"
)

//go:embed corpus/handbook.yaml
var defaultCorpus []byte

// LoadPageIndex reads the index from path, or the built-in handbook when path is empty.
func LoadPageIndex(path string) (*search.Index, error) {
	if path == "" {
		return search.LoadIndex(bytes.NewReader(defaultCorpus))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page index: %w", err)
	}
	defer f.Close()
	return search.LoadIndex(f)
}
