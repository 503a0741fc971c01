// Package scanner walks a working tree and builds the manifest that
// describes it, the local half of the three-way merge. It follows the
// shape of the teacher's internal/sync.Scanner (walkDir/processEntry,
// an fsRelPath/dbRelPath split for Unicode-normalized storage)
// adapted from "upsert into the item table" to "add an Entry to an
// in-memory Manifest". Every regular file is hashed on every scan;
// there is no mtime-based shortcut.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hrdag/dsg/internal/ignore"
	"github.com/hrdag/dsg/internal/manifest"
	"github.com/hrdag/dsg/pkg/contenthash"
)

// MetaDirName is the reserved directory every dsg repository keeps at
// its root for staging, archive, and lock-file state. It is never
// itself part of the manifest.
const MetaDirName = ".dsg"

// Options configures a scan.
type Options struct {
	Ignore      *ignore.Set
	Normalize   bool // rename on-disk paths that aren't already NFC
	Concurrency int  // bounds parallel hashing; 0 means runtime.NumCPU()
	Logger      *slog.Logger
}

// RenamedPath records one normalization rename performed during a
// scan.
type RenamedPath struct {
	From, To string
}

// Report summarizes non-fatal events from a scan.
type Report struct {
	Renamed       []RenamedPath
	SkippedLinks  []string // symlinks that pointed outside the tree
	ValidationErr map[string]error
}

type job struct {
	relPath string
	absPath string
	info    fs.DirEntry
}

// Scan walks root and returns the manifest describing it.
func Scan(ctx context.Context, root string, userID string, opts Options) (*manifest.Manifest, Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	report := Report{ValidationErr: make(map[string]error)}

	jobs, err := walk(root, opts, &report, logger)
	if err != nil {
		return nil, report, err
	}

	m := manifest.New()

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	type result struct {
		relPath string
		entry   manifest.Entry
	}

	results := make([]result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, j := range jobs {
		i, j := i, j

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			entry, err := buildEntry(j, userID)
			if err != nil {
				logger.Warn("skipping unreadable path", slog.String("path", j.relPath), slog.Any("error", err))
				return nil
			}

			results[i] = result{relPath: j.relPath, entry: entry}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, report, fmt.Errorf("scan: %w", err)
	}

	for _, r := range results {
		if r.relPath == "" {
			continue
		}

		m.Entries[r.relPath] = r.entry
	}

	m.Metadata.EntryCount = len(m.Entries)

	return m, report, nil
}

func walk(root string, opts Options, report *Report, logger *slog.Logger) ([]job, error) {
	var jobs []job

	err := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, relErr := filepath.Rel(root, absPath)
		if relErr != nil {
			return relErr
		}

		if relPath == "." {
			return nil
		}

		relPath = filepath.ToSlash(relPath)

		if relPath == MetaDirName || hasMetaPrefix(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if opts.Ignore.Match(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if err := ValidateName(filepath.Base(relPath)); err != nil {
			report.ValidationErr[relPath] = err

			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		finalRel := relPath

		if NeedsNormalization(relPath) {
			normalized := NormalizeNFC(relPath)

			if opts.Normalize {
				if err := renameToNormalized(root, relPath, normalized); err != nil {
					logger.Warn("normalization rename failed", slog.String("path", relPath), slog.Any("error", err))
				} else {
					report.Renamed = append(report.Renamed, RenamedPath{From: relPath, To: normalized})
					finalRel = normalized
				}
			} else {
				finalRel = normalized
			}
		}

		jobs = append(jobs, job{relPath: finalRel, absPath: absPath, info: d})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: walking %s: %w", root, err)
	}

	return jobs, nil
}

func hasMetaPrefix(relPath string) bool {
	return len(relPath) > len(MetaDirName) && relPath[:len(MetaDirName)+1] == MetaDirName+"/"
}

func renameToNormalized(root, from, to string) error {
	return os.Rename(filepath.Join(root, filepath.FromSlash(from)), filepath.Join(root, filepath.FromSlash(to)))
}

func buildEntry(j job, userID string) (manifest.Entry, error) {
	info, err := j.info.Info()
	if err != nil {
		return manifest.Entry{}, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(j.absPath)
		if err != nil {
			return manifest.Entry{}, err
		}

		return manifest.Entry{Kind: manifest.KindLink, Target: target, UserID: userID}, nil
	}

	f, err := os.Open(j.absPath)
	if err != nil {
		return manifest.Entry{}, err
	}
	defer f.Close()

	digest, err := contenthash.Stream(f)
	if err != nil {
		return manifest.Entry{}, err
	}

	return manifest.Entry{
		Kind:         manifest.KindFile,
		Size:         info.Size(),
		ModifiedTime: info.ModTime().UnixNano(),
		ContentHash:  digest,
		UserID:       userID,
	}, nil
}
