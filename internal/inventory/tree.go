package inventory

import (
	"context"
	"fmt"
	"io"

	"github.com/italolelis/vimeo_downloader/internal/logctx"
	"github.com/italolelis/vimeo_downloader/internal/vimeo"
)

// NodeKind tells what a tree node stands for.
type NodeKind int

const (
	KindAccount NodeKind = iota
	KindFolder
	KindVideo
	KindGroup
)

// Node is an element of the account tree printed by the tree command.
type Node struct {
	Kind     NodeKind
	ID       string
	Name     string
	Children []*Node
}

// Tree builds the folder hierarchy of the account. When includeVideos is set
// every folder also lists its videos, after its subfolders, and videos
// without a folder are grouped under a final node.
func (e *Enumerator) Tree(ctx context.Context, includeVideos bool) (*Node, error) {
	root := &Node{Kind: KindAccount, Name: e.accountName(ctx)}

	folders, err := e.folders(ctx)
	if err != nil {
		return nil, err
	}

	children := folderTree(folders)
	visited := map[string]bool{}

	var build func(f vimeo.Folder) (*Node, error)

	build = func(f vimeo.Folder) (*Node, error) {
		visited[f.URI] = true
		node := &Node{Kind: KindFolder, ID: f.ID(), Name: cleanName(f.Name, "folder "+f.ID())}

		for _, child := range children[f.URI] {
			if visited[child.URI] {
				continue
			}

			n, err := build(child)
			if err != nil {
				return nil, err
			}

			node.Children = append(node.Children, n)
		}

		if !includeVideos {
			return node, nil
		}

		err := e.list(ctx, FolderName(f), func(yield func(vimeo.Video) error) error {
			return e.client.ListFolderVideos(ctx, f, yield)
		}, func(v vimeo.Video) error {
			node.Children = append(node.Children, videoNode(v))

			return nil
		})

		return node, err
	}

	for _, f := range children[""] {
		if visited[f.URI] {
			continue
		}

		n, err := build(f)
		if err != nil {
			return nil, err
		}

		root.Children = append(root.Children, n)
	}

	// Folders caught in a parent cycle follow the top level ones, as in Walk.
	for _, f := range folders {
		if visited[f.URI] {
			continue
		}

		logctx.LoggerFromContext(ctx).WarnContext(ctx, "folder not reachable from the top level", "folder_id", f.ID())

		n, err := build(f)
		if err != nil {
			return nil, err
		}

		root.Children = append(root.Children, n)
	}

	if !includeVideos {
		return root, nil
	}

	group := &Node{Kind: KindGroup, Name: "Videos without folder"}

	err = e.list(ctx, SectionUnfiled, func(yield func(vimeo.Video) error) error {
		return e.client.ListVideos(ctx, yield)
	}, func(v vimeo.Video) error {
		if v.FolderCount == 0 {
			group.Children = append(group.Children, videoNode(v))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(group.Children) > 0 {
		root.Children = append(root.Children, group)
	}

	return root, nil
}

func (e *Enumerator) accountName(ctx context.Context) string {
	me, err := e.client.Me(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to look up account name", "err", err)

		return "Vimeo account"
	}

	if name := cleanName(me.Name, ""); name != "" {
		return fmt.Sprintf("Vimeo account (%s)", name)
	}

	return "Vimeo account"
}

func videoNode(v vimeo.Video) *Node {
	return &Node{Kind: KindVideo, ID: v.ID(), Name: cleanName(v.Name, "video "+v.ID())}
}

// Label is the line printed for the node, without the tree connector.
func (n *Node) Label() string {
	switch n.Kind {
	case KindFolder:
		return fmt.Sprintf("%s [folder %s]", n.Name, n.ID)
	case KindVideo:
		return fmt.Sprintf("%s [video %s]", n.Name, n.ID)
	default:
		return n.Name
	}
}

// Render writes the tree rooted at n to w using ASCII connectors.
func (n *Node) Render(w io.Writer) error {
	if _, err := fmt.Fprintln(w, n.Label()); err != nil {
		return err
	}

	return renderChildren(w, n.Children, "")
}

func renderChildren(w io.Writer, nodes []*Node, prefix string) error {
	for i, child := range nodes {
		connector, next := "|-- ", "|   "
		if i == len(nodes)-1 {
			connector, next = "`-- ", "    "
		}

		if _, err := fmt.Fprintf(w, "%s%s%s\n", prefix, connector, child.Label()); err != nil {
			return err
		}

		if err := renderChildren(w, child.Children, prefix+next); err != nil {
			return err
		}
	}

	return nil
}
