// Package inventory walks the folder tree and videos of a Vimeo account.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
	"golang.org/x/text/cases"
)

// Section names used in SectionError for listings that are not a folder.
const (
	SectionFolders = "folders"
	SectionUnfiled = "videos without folder"
)

// Lister is the subset of the Vimeo client used to enumerate an account.
type Lister interface {
	Me(ctx context.Context) (*vimeo.User, error)
	ListFolders(ctx context.Context, fn func(vimeo.Folder) error) error
	ListFolderVideos(ctx context.Context, folder vimeo.Folder, fn func(vimeo.Video) error) error
	ListVideos(ctx context.Context, fn func(vimeo.Video) error) error
}

// Entry is a video together with the folder it was found in. Folder holds the
// display names from the top level folder down; it is empty for unfiled
// videos.
type Entry struct {
	Folder    []string
	FolderURI string
	Video     vimeo.Video
}

// SectionError reports a listing that could not be completed. Videos yielded
// before the failure have already been handed to the caller.
type SectionError struct {
	Section string
	Err     error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("enumeration of %s incomplete: %v", e.Section, e.Err)
}

func (e *SectionError) Unwrap() error {
	return e.Err
}

// Enumerator produces every video of an account exactly once.
type Enumerator struct {
	client Lister
}

// NewEnumerator creates an Enumerator backed by client.
func NewEnumerator(client Lister) *Enumerator {
	return &Enumerator{client: client}
}

// Walk calls fn for every video of the account: folder by folder, depth
// first in name order, then the videos not found in any folder. Videos are
// deduplicated by URI. An error returned by fn stops the walk and is returned
// unchanged; listing failures are returned as *SectionError.
func (e *Enumerator) Walk(ctx context.Context, fn func(context.Context, Entry) error) error {
	logger := logctx.LoggerFromContext(ctx)

	folders, err := e.folders(ctx)
	if err != nil {
		return err
	}

	children := folderTree(folders)
	visited := map[string]bool{}
	yielded := map[string]bool{}

	emit := func(entry Entry) error {
		if yielded[entry.Video.URI] {
			logger.DebugContext(ctx, "skipping duplicate video", "video_id", entry.Video.ID())

			return nil
		}

		yielded[entry.Video.URI] = true

		return fn(ctx, entry)
	}

	var walk func(f vimeo.Folder, parents []string) error

	walk = func(f vimeo.Folder, parents []string) error {
		if visited[f.URI] {
			return nil
		}

		visited[f.URI] = true

		path := append(append([]string(nil), parents...), FolderName(f))

		logger.DebugContext(ctx, "listing folder", "folder_id", f.ID(), "folder", strings.Join(path, "/"))

		if err := e.list(ctx, strings.Join(path, "/"), func(yield func(vimeo.Video) error) error {
			return e.client.ListFolderVideos(ctx, f, yield)
		}, func(v vimeo.Video) error {
			return emit(Entry{Folder: path, FolderURI: f.URI, Video: v})
		}); err != nil {
			return err
		}

		for _, child := range children[f.URI] {
			if err := walk(child, path); err != nil {
				return err
			}
		}

		return nil
	}

	for _, f := range children[""] {
		if err := walk(f, nil); err != nil {
			return err
		}
	}

	// Folders caught in a parent cycle are unreachable from the top level.
	for _, f := range folders {
		if !visited[f.URI] {
			logger.WarnContext(ctx, "folder not reachable from the top level", "folder_id", f.ID())

			if err := walk(f, nil); err != nil {
				return err
			}
		}
	}

	return e.list(ctx, SectionUnfiled, func(yield func(vimeo.Video) error) error {
		return e.client.ListVideos(ctx, yield)
	}, func(v vimeo.Video) error {
		return emit(Entry{Video: v})
	})
}

// list runs a listing, passing callback errors through unchanged and wrapping
// listing failures in a SectionError.
func (e *Enumerator) list(
	ctx context.Context,
	section string,
	listing func(yield func(vimeo.Video) error) error,
	fn func(vimeo.Video) error,
) error {
	var cbErr error

	err := listing(func(v vimeo.Video) error {
		if err := fn(v); err != nil {
			cbErr = err

			return err
		}

		return nil
	})

	switch {
	case cbErr != nil:
		return cbErr
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return &SectionError{Section: section, Err: err}
	}

	return nil
}

func (e *Enumerator) folders(ctx context.Context) ([]vimeo.Folder, error) {
	var folders []vimeo.Folder

	err := e.client.ListFolders(ctx, func(f vimeo.Folder) error {
		folders = append(folders, f)

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &SectionError{Section: SectionFolders, Err: err}
	}

	return folders, nil
}

// folderTree groups folders by parent URI, with top level folders under "".
// Folders whose parent is not part of the listing are attached to the top
// level. Every group is sorted by case-folded name, then URI.
func folderTree(folders []vimeo.Folder) map[string][]vimeo.Folder {
	known := make(map[string]bool, len(folders))
	for _, f := range folders {
		known[f.URI] = true
	}

	children := map[string][]vimeo.Folder{}
	seen := map[string]bool{}

	for _, f := range folders {
		if seen[f.URI] {
			continue
		}

		seen[f.URI] = true

		parent := f.ParentURI
		if parent == f.URI || !known[parent] {
			parent = ""
		}

		children[parent] = append(children[parent], f)
	}

	fold := cases.Fold()
	for _, group := range children {
		sort.SliceStable(group, func(i, j int) bool {
			a, b := fold.String(FolderName(group[i])), fold.String(FolderName(group[j]))
			if a != b {
				return a < b
			}

			return group[i].URI < group[j].URI
		})
	}

	return children
}

// FolderName returns the display name of f with whitespace collapsed, or
// "folder_<id>" when the name is blank.
func FolderName(f vimeo.Folder) string {
	return cleanName(f.Name, "folder_"+f.ID())
}

func cleanName(name, fallback string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return fallback
	}

	return name
}
