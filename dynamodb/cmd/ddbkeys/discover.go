package main

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

const schemaFilename = "schema_dynamodb.yaml"

// skipDirs are never searched for schema files.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"_examples":    true,
	"testdata":     true,
}

// DiscoverSchemas finds the schema files below root. Inside a git work tree
// it asks git, which honours .gitignore; otherwise it walks the tree.
func DiscoverSchemas(root string) ([]string, error) {
	if files, err := discoverWithGit(root); err == nil && len(files) > 0 {
		return files, nil
	}
	return discoverWithWalk(root)
}

func discoverWithGit(root string) ([]string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, err
	}
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if filepath.Base(line) != schemaFilename || skipped(line) {
			continue
		}
		files = append(files, filepath.Join(root, line))
	}
	return files, scanner.Err()
}

func discoverWithWalk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == schemaFilename {
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}

func skipped(path string) bool {
	for _, dir := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if skipDirs[dir] {
			return true
		}
	}
	return false
}
