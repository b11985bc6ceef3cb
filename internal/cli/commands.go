package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/media"
	"github.com/dmitrijs2005/photocatalog/internal/models"
	"github.com/dmitrijs2005/photocatalog/internal/services"
)

var errUsage = errors.New("usage")

// collectFiles expands args into local file items. Directories are walked;
// hidden files and directories are skipped.
func collectFiles(args []string) ([]media.Item, error) {
	var items []media.Item
	for _, arg := range args {
		err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != arg && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			f, err := media.NewLocalFile(path, nil)
			if err != nil {
				return err
			}
			items = append(items, f)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// follow prints progress events of h and returns its result.
func (a *App) follow(h *services.Handle) (*models.Checkpoint, error) {
	for p := range h.Progress() {
		if p.IsComplete {
			fmt.Fprintln(a.out, p.Message)
			continue
		}
		fmt.Fprintf(a.out, "[%d/%d] %s\n", p.CurrentItem, p.TotalItems, p.Message)
	}
	cp, err := h.Wait()
	if err != nil && cp != nil && cp.IsResumable() {
		fmt.Fprintf(a.out, "batch stopped, continue with: resume %s\n", cp.ID)
	}
	return cp, err
}

func (a *App) runFiles(ctx context.Context, args []string, submit func(context.Context, []media.Item) (*services.Handle, error)) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: expected at least one path", errUsage)
	}
	items, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "no files found")
		return nil
	}
	h, err := submit(ctx, items)
	if err != nil {
		return err
	}
	_, err = a.follow(h)
	return err
}

func (a *App) Star(ctx context.Context, args []string) error {
	return a.runFiles(ctx, args, a.lib.Star)
}

func (a *App) Unstar(ctx context.Context, args []string) error {
	return a.runFiles(ctx, args, a.lib.Unstar)
}

// Check reports whether a file is starred. The prefix probe answers first;
// a hit is confirmed with a full hash.
func (a *App) Check(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: check <path>", errUsage)
	}
	f, err := media.NewLocalFile(args[0], nil)
	if err != nil {
		return err
	}
	hash, likely, err := a.lib.LikelyStarred(ctx, f)
	if err != nil {
		return err
	}
	if !likely {
		fmt.Fprintf(a.out, "%s is not starred\n", f.DisplayName())
		return nil
	}
	ok, err := a.lib.IsStarred(hash)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(a.out, "%s is starred (%s)\n", f.DisplayName(), hash)
	} else {
		fmt.Fprintf(a.out, "%s is not starred\n", f.DisplayName())
	}
	return nil
}

// Export downloads the given hashes, or every starred photo, into a
// directory.
func (a *App) Export(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: export <dir> [hash...]", errUsage)
	}
	dest, hashes := args[0], args[1:]
	if len(hashes) == 0 {
		for _, e := range a.lib.Catalog.StarredEntries() {
			hashes = append(hashes, e.ContentHash)
		}
	}
	if len(hashes) == 0 {
		fmt.Fprintln(a.out, "nothing to export")
		return nil
	}
	h, err := a.lib.Export(ctx, hashes, dest)
	if err != nil {
		return err
	}
	_, err = a.follow(h)
	return err
}

func (a *App) Sync(ctx context.Context) error {
	a.syncMu <- struct{}{}
	defer func() { <-a.syncMu }()

	changed, err := a.lib.SyncNow(ctx)
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintln(a.out, "catalog synchronized")
	} else {
		fmt.Fprintln(a.out, "catalog is up to date")
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func (a *App) Status(ctx context.Context) error {
	st := a.lib.Status()
	fmt.Fprintf(a.out, "user:      %s\n", st.UserID)
	fmt.Fprintf(a.out, "entries:   %d (%d starred)\n", st.Entries, st.Starred)
	fmt.Fprintf(a.out, "modified:  %s\n", formatTime(st.ModifiedDate))
	fmt.Fprintf(a.out, "last sync: %s\n", formatTime(st.LastSync))
	if len(st.DirtyShards) > 0 {
		fmt.Fprintf(a.out, "unsynced shards: %v\n", st.DirtyShards)
	}
	return nil
}

func (a *App) Checkpoints(ctx context.Context) error {
	list, err := a.lib.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "no checkpoints")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tSTATUS\tDONE\tFAILED\tUPDATED")
	for _, cp := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n", cp.ID, cp.Action, cp.Status,
			cp.ProcessedCount, cp.TotalItems, cp.FailedCount, formatTime(cp.UpdatedAt))
	}
	return w.Flush()
}

// Resume continues the given checkpoint, or the newest resumable one.
func (a *App) Resume(ctx context.Context, args []string) error {
	var id string
	switch len(args) {
	case 0:
		list, err := a.lib.Checkpoints(ctx)
		if err != nil {
			return err
		}
		for _, cp := range list {
			if cp.IsResumable() {
				id = cp.ID
				break
			}
		}
		if id == "" {
			fmt.Fprintln(a.out, "nothing to resume")
			return nil
		}
	case 1:
		id = args[0]
	default:
		return fmt.Errorf("%w: resume [id]", errUsage)
	}

	h, err := a.lib.Resume(ctx, id)
	if err != nil {
		return err
	}
	_, err = a.follow(h)
	return err
}
