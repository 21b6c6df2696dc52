package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ManifestFilename lists, inside the installation root, the files the last merge installed.
const ManifestFilename = ".bedrock-up-files.json"

const manifestPermissions = 0o644

type manifest struct {
	Files []string `json:"files"`
}

// readManifest returns nil without error when no manifest exists yet.
func readManifest(liveRoot string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(liveRoot, ManifestFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var m manifest
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	if m.Files == nil {
		m.Files = []string{}
	}

	return m.Files, nil
}

func writeManifest(liveRoot string, files []string) error {
	unique := toSet(files)

	m := manifest{Files: make([]string, 0, len(unique))}
	for rel := range unique {
		m.Files = append(m.Files, rel)
	}

	sort.Strings(m.Files)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	return writeAtomic(filepath.Join(liveRoot, ManifestFilename), bytes.NewReader(data), manifestPermissions, nil)
}
